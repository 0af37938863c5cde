package event

import (
	"fmt"
	"strings"
)

// Tag is a tag name followed by its values
type Tag []string

type Tags []Tag

func (t Tag) Name() string {
	if len(t) == 0 {
		return ""
	}
	return t[0]
}

// Value returns the first value after the name
func (t Tag) Value() string {
	if len(t) < 2 {
		return ""
	}
	return t[1]
}

// Find returns the first tag called name, or nil
func (tags Tags) Find(name string) Tag {
	for _, t := range tags {
		if t.Name() == name {
			return t
		}
	}
	return nil
}

// Values returns the first value of every tag called name
func (tags Tags) Values(name string) []string {
	var out []string
	for _, t := range tags {
		if t.Name() == name && len(t) > 1 {
			out = append(out, t[1])
		}
	}
	return out
}

func (tags Tags) Clone() Tags {
	out := make(Tags, len(tags))
	for i, t := range tags {
		out[i] = append(Tag(nil), t...)
	}
	return out
}

// ParseTag reads the command line form name=value1,value2
func ParseTag(s string) (Tag, error) {
	name, values, found := strings.Cut(s, "=")
	if name == "" {
		return nil, fmt.Errorf("%w: tag %q has no name", ErrMalformed, s)
	}
	tag := Tag{name}
	if found {
		tag = append(tag, strings.Split(values, ",")...)
	}
	return tag, nil
}
