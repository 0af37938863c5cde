package commands

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"nostrbox/pkg/dispatch"
	"nostrbox/pkg/event"
	"nostrbox/pkg/keys"
	"nostrbox/pkg/relay"
)

// filterFlags builds one filter from flags, or reads filters from a file
type filterFlags struct {
	file    *string
	ids     *string
	authors *string
	kinds   *string
	tags    stringList
	since   *int64
	until   *int64
	limit   *int
	search  *string
}

func addFilterFlags(fs *flag.FlagSet) *filterFlags {
	f := &filterFlags{
		file:    fs.String("filter-file", "", "read filters from a YAML or JSON `file` (- for stdin)"),
		ids:     fs.String("ids", "", "comma separated event ids (hex, note or nevent)"),
		authors: fs.String("authors", "", "comma separated authors (hex, npub or nprofile)"),
		kinds:   fs.String("kinds", "", "comma separated kinds"),
		since:   fs.Int64("since", 0, "only events at or after this unix time"),
		until:   fs.Int64("until", 0, "only events at or before this unix time"),
		limit:   fs.Int("limit", 0, "maximum number of stored events"),
		search:  fs.String("search", "", "full text search (NIP-50)"),
	}
	fs.Var(&f.tags, "tag", "tag filter as `x=value1,value2` (repeatable)")
	return f
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (f *filterFlags) fromFlags() (relay.Filter, error) {
	var flt relay.Filter
	for _, v := range splitList(*f.ids) {
		id, err := parseEventID(v)
		if err != nil {
			return flt, dispatch.Usagef("-ids: %v", err)
		}
		flt.IDs = append(flt.IDs, hex.EncodeToString(id[:]))
	}
	for _, v := range splitList(*f.authors) {
		pk, err := keys.ParsePublicKey(v)
		if err != nil {
			return flt, dispatch.Usagef("-authors: %v", err)
		}
		flt.Authors = append(flt.Authors, hex.EncodeToString(pk[:]))
	}
	for _, v := range splitList(*f.kinds) {
		k, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return flt, dispatch.Usagef("-kinds: bad kind %q", v)
		}
		flt.Kinds = append(flt.Kinds, event.Kind(k))
	}
	for _, t := range f.tags {
		tag, err := event.ParseTag(t)
		if err != nil {
			return flt, dispatch.Usagef("-tag: %v", err)
		}
		if len(tag[0]) != 1 || len(tag) < 2 {
			return flt, dispatch.Usagef("-tag wants a single letter name and values, got %q", t)
		}
		if flt.Tags == nil {
			flt.Tags = make(map[string][]string)
		}
		flt.Tags[tag[0]] = append(flt.Tags[tag[0]], tag[1:]...)
	}
	if *f.since > 0 {
		ts := event.Timestamp(*f.since)
		flt.Since = &ts
	}
	if *f.until > 0 {
		ts := event.Timestamp(*f.until)
		flt.Until = &ts
	}
	if *f.limit < 0 {
		return flt, dispatch.Usagef("-limit must not be negative")
	}
	flt.Limit = *f.limit
	flt.Search = *f.search
	return flt, nil
}

// usesFile reports whether filters come from a file
func (f *filterFlags) usesFile() bool { return *f.file != "" }

// filters returns the filters to send. readStdin supplies the file content
// for "-filter-file -".
func (f *filterFlags) filters(readStdin func() ([]byte, error)) ([]relay.Filter, error) {
	if !f.usesFile() {
		flt, err := f.fromFlags()
		if err != nil {
			return nil, err
		}
		return []relay.Filter{flt}, nil
	}

	var (
		data []byte
		err  error
	)
	if *f.file == "-" {
		data, err = readStdin()
	} else {
		data, err = os.ReadFile(*f.file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}
	return ParseFilters(data)
}

// ParseFilters reads one filter or a list of filters written in YAML or JSON,
// using the NIP-01 field names.
func ParseFilters(data []byte) ([]relay.Filter, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: filter file: %v", event.ErrMalformed, err)
	}

	var items []any
	switch v := doc.(type) {
	case map[string]any:
		items = []any{v}
	case []any:
		items = v
	case nil:
		return nil, dispatch.Usagef("filter file is empty")
	default:
		return nil, fmt.Errorf("%w: filter file must hold a filter or a list of filters", event.ErrMalformed)
	}

	out := make([]relay.Filter, 0, len(items))
	for i, item := range items {
		// YAML decodes into plain values; the filter's JSON form does the
		// field validation.
		b, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("%w: filter %d: %v", event.ErrMalformed, i, err)
		}
		var flt relay.Filter
		if err := json.Unmarshal(b, &flt); err != nil {
			return nil, fmt.Errorf("%w: filter %d: %v", event.ErrMalformed, i, err)
		}
		out = append(out, flt)
	}
	if len(out) == 0 {
		return nil, dispatch.Usagef("filter file holds no filters")
	}
	return out, nil
}
