package relay

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"nostrbox/pkg/event"
)

// Filter selects events in a REQ or COUNT. Empty fields match everything.
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []event.Kind
	// Tags maps a single-letter tag name to accepted values, sent as "#e"
	Tags   map[string][]string
	Since  *event.Timestamp
	Until  *event.Timestamp
	Limit  int
	Search string
}

func (f Filter) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, 8)
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		m["#"+name] = values
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	// encoding/json sorts map keys, which keeps output stable
	return json.Marshal(m)
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: filter: %v", ErrProtocol, err)
	}
	*f = Filter{}
	for key, val := range raw {
		var err error
		switch {
		case key == "ids":
			err = json.Unmarshal(val, &f.IDs)
		case key == "authors":
			err = json.Unmarshal(val, &f.Authors)
		case key == "kinds":
			err = json.Unmarshal(val, &f.Kinds)
		case key == "since":
			f.Since = new(event.Timestamp)
			err = json.Unmarshal(val, f.Since)
		case key == "until":
			f.Until = new(event.Timestamp)
			err = json.Unmarshal(val, f.Until)
		case key == "limit":
			err = json.Unmarshal(val, &f.Limit)
		case key == "search":
			err = json.Unmarshal(val, &f.Search)
		case strings.HasPrefix(key, "#") && len(key) > 1:
			var values []string
			err = json.Unmarshal(val, &values)
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[key[1:]] = values
		}
		if err != nil {
			return fmt.Errorf("%w: filter field %q: %v", ErrProtocol, key, err)
		}
	}
	return nil
}

// Matches reports whether ev satisfies every condition of the filter.
// Search is not evaluated.
func (f Filter) Matches(ev *event.Event) bool {
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, ev.ID.String()) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, ev.PubKey.String()) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, ev.Kind) {
		return false
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if !slices.ContainsFunc(ev.Tags.Values(name), func(v string) bool {
			return slices.Contains(values, v)
		}) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether ev satisfies at least one filter
func MatchesAny(filters []Filter, ev *event.Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}
