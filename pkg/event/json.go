package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalJSON writes the wire form with the same string escaping used for
// the id, so content survives byte for byte.
func (e *Event) MarshalJSON() ([]byte, error) {
	dst := make([]byte, 0, 300+len(e.Content)+len(e.Tags)*80)
	dst = append(dst, `{"id":"`...)
	dst = append(dst, e.ID.String()...)
	dst = append(dst, `","pubkey":"`...)
	dst = append(dst, e.PubKey.String()...)
	dst = append(dst, `","created_at":`...)
	dst = strconv.AppendUint(dst, uint64(e.CreatedAt), 10)
	dst = append(dst, `,"kind":`...)
	dst = strconv.AppendUint(dst, uint64(e.Kind), 10)
	dst = append(dst, `,"tags":`...)
	dst = appendTags(dst, e.Tags)
	dst = append(dst, `,"content":`...)
	dst = appendString(dst, e.Content)
	dst = append(dst, `,"sig":"`...)
	dst = append(dst, e.Sig.String()...)
	dst = append(dst, `"}`...)
	return dst, nil
}

type wireEvent struct {
	ID        *ID        `json:"id"`
	PubKey    *PubKey    `json:"pubkey"`
	CreatedAt *Timestamp `json:"created_at"`
	Kind      *Kind      `json:"kind"`
	Tags      Tags       `json:"tags"`
	Content   *string    `json:"content"`
	Sig       *Signature `json:"sig"`
}

// UnmarshalJSON requires every field of a signed event. It does not verify
// the signature; call Check for that.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch {
	case w.ID == nil:
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case w.PubKey == nil:
		return fmt.Errorf("%w: missing pubkey", ErrMalformed)
	case w.CreatedAt == nil:
		return fmt.Errorf("%w: missing created_at", ErrMalformed)
	case w.Kind == nil:
		return fmt.Errorf("%w: missing kind", ErrMalformed)
	case w.Content == nil:
		return fmt.Errorf("%w: missing content", ErrMalformed)
	case w.Sig == nil:
		return fmt.Errorf("%w: missing sig", ErrMalformed)
	}
	for i, tag := range w.Tags {
		if len(tag) == 0 {
			return fmt.Errorf("%w: tag %d is empty", ErrMalformed, i)
		}
	}
	if w.Tags == nil {
		w.Tags = Tags{}
	}
	*e = Event{
		ID:        *w.ID,
		PubKey:    *w.PubKey,
		CreatedAt: *w.CreatedAt,
		Kind:      *w.Kind,
		Tags:      w.Tags,
		Content:   *w.Content,
		Sig:       *w.Sig,
	}
	return nil
}

// Parse decodes a single event from JSON
func Parse(b []byte) (*Event, error) {
	var e Event
	if err := e.UnmarshalJSON(bytes.TrimSpace(b)); err != nil {
		return nil, err
	}
	return &e, nil
}

// UnsignedJSON is the template form accepted by the signing command: any
// field may be omitted and id, sig are ignored.
type UnsignedJSON struct {
	PubKey    *PubKey   `json:"pubkey,omitempty"`
	CreatedAt Timestamp `json:"created_at,omitempty"`
	Kind      Kind      `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
}
