package relay

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"nostrbox/pkg/event"
)

// RelayMessage is a message sent by a relay. The set of implementations is
// closed; anything else on the wire is a protocol error.
type RelayMessage interface {
	Label() string
	relayMessage()
}

// ClientMessage is a message sent to a relay
type ClientMessage interface {
	Label() string
	MarshalJSON() ([]byte, error)
	clientMessage()
}

type EventDelivery struct {
	SubscriptionID string
	Event          *event.Event
	// Size is the length of the event object as received
	Size int
}

type OKMessage struct {
	EventID  event.ID
	Accepted bool
	Reason   string
}

type EOSEMessage struct {
	SubscriptionID string
}

type ClosedMessage struct {
	SubscriptionID string
	Reason         string
}

type NoticeMessage struct {
	Message string
}

type CountResult struct {
	SubscriptionID string
	Count          int64
	Approximate    bool
}

type AuthMessage struct {
	Challenge string
}

func (EventDelivery) Label() string { return "EVENT" }
func (OKMessage) Label() string     { return "OK" }
func (EOSEMessage) Label() string   { return "EOSE" }
func (ClosedMessage) Label() string { return "CLOSED" }
func (NoticeMessage) Label() string { return "NOTICE" }
func (CountResult) Label() string   { return "COUNT" }
func (AuthMessage) Label() string   { return "AUTH" }

func (EventDelivery) relayMessage() {}
func (OKMessage) relayMessage()     {}
func (EOSEMessage) relayMessage()   {}
func (ClosedMessage) relayMessage() {}
func (NoticeMessage) relayMessage() {}
func (CountResult) relayMessage()   {}
func (AuthMessage) relayMessage()   {}

type ReqMessage struct {
	SubscriptionID string
	Filters        []Filter
}

type CloseMessage struct {
	SubscriptionID string
}

type EventMessage struct {
	Event *event.Event
}

type CountMessage struct {
	SubscriptionID string
	Filters        []Filter
}

func (ReqMessage) Label() string   { return "REQ" }
func (CloseMessage) Label() string { return "CLOSE" }
func (EventMessage) Label() string { return "EVENT" }
func (CountMessage) Label() string { return "COUNT" }

func (ReqMessage) clientMessage()   {}
func (CloseMessage) clientMessage() {}
func (EventMessage) clientMessage() {}
func (CountMessage) clientMessage() {}

func (m ReqMessage) MarshalJSON() ([]byte, error) {
	return marshalArray(m.Label(), m.SubscriptionID, m.Filters)
}

func (m CloseMessage) MarshalJSON() ([]byte, error) {
	return marshalArray(m.Label(), m.SubscriptionID, nil)
}

func (m EventMessage) MarshalJSON() ([]byte, error) {
	raw, err := m.Event.MarshalJSON()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(raw)+10)
	out = append(out, `["EVENT",`...)
	out = append(out, raw...)
	return append(out, ']'), nil
}

func (m CountMessage) MarshalJSON() ([]byte, error) {
	return marshalArray(m.Label(), m.SubscriptionID, m.Filters)
}

// marshalArray renders [label, id, filters...] without HTML escaping
func marshalArray(label, id string, filters []Filter) ([]byte, error) {
	parts := make([]any, 0, 2+len(filters))
	parts = append(parts, label, id)
	for _, f := range filters {
		parts = append(parts, f)
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parts); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func protocolErr(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrProtocol}, args...)...)
}

func parseArray(b []byte) ([]gjson.Result, string, error) {
	if !gjson.ValidBytes(b) {
		return nil, "", protocolErr("invalid json")
	}
	root := gjson.ParseBytes(b)
	if !root.IsArray() {
		return nil, "", protocolErr("message is not an array")
	}
	arr := root.Array()
	if len(arr) == 0 || arr[0].Type != gjson.String {
		return nil, "", protocolErr("message has no label")
	}
	return arr, arr[0].Str, nil
}

func wantString(arr []gjson.Result, i int, label string) (string, error) {
	if i >= len(arr) || arr[i].Type != gjson.String {
		return "", protocolErr("%s: element %d must be a string", label, i)
	}
	return arr[i].Str, nil
}

// ParseRelayMessage decodes one relay-to-client frame
func ParseRelayMessage(b []byte) (RelayMessage, error) {
	arr, label, err := parseArray(b)
	if err != nil {
		return nil, err
	}

	switch label {
	case "EVENT":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		if len(arr) < 3 || !arr[2].IsObject() {
			return nil, protocolErr("EVENT: missing event object")
		}
		ev, err := event.Parse([]byte(arr[2].Raw))
		if err != nil {
			return nil, protocolErr("EVENT: %v", err)
		}
		return EventDelivery{SubscriptionID: id, Event: ev, Size: len(arr[2].Raw)}, nil

	case "OK":
		rawID, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		id, err := event.ParseID(rawID)
		if err != nil {
			return nil, protocolErr("OK: %v", err)
		}
		if len(arr) < 3 || (arr[2].Type != gjson.True && arr[2].Type != gjson.False) {
			return nil, protocolErr("OK: element 2 must be a boolean")
		}
		msg := OKMessage{EventID: id, Accepted: arr[2].Bool()}
		if len(arr) > 3 {
			msg.Reason = arr[3].String()
		}
		return msg, nil

	case "EOSE":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		return EOSEMessage{SubscriptionID: id}, nil

	case "CLOSED":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		msg := ClosedMessage{SubscriptionID: id}
		if len(arr) > 2 {
			msg.Reason = arr[2].String()
		}
		return msg, nil

	case "NOTICE":
		text, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		return NoticeMessage{Message: text}, nil

	case "COUNT":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		if len(arr) < 3 || !arr[2].IsObject() {
			return nil, protocolErr("COUNT: missing result object")
		}
		count := arr[2].Get("count")
		if count.Type != gjson.Number {
			return nil, protocolErr("COUNT: count must be a number")
		}
		return CountResult{SubscriptionID: id, Count: count.Int(), Approximate: arr[2].Get("approximate").Bool()}, nil

	case "AUTH":
		challenge, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		return AuthMessage{Challenge: challenge}, nil
	}
	return nil, protocolErr("unknown label %q", label)
}

// ParseClientMessage decodes one client-to-relay frame
func ParseClientMessage(b []byte) (ClientMessage, error) {
	arr, label, err := parseArray(b)
	if err != nil {
		return nil, err
	}

	switch label {
	case "EVENT":
		if len(arr) < 2 || !arr[1].IsObject() {
			return nil, protocolErr("EVENT: missing event object")
		}
		ev, err := event.Parse([]byte(arr[1].Raw))
		if err != nil {
			return nil, protocolErr("EVENT: %v", err)
		}
		return EventMessage{Event: ev}, nil

	case "REQ", "COUNT":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		filters := make([]Filter, 0, len(arr)-2)
		for _, raw := range arr[2:] {
			var f Filter
			if err := json.Unmarshal([]byte(raw.Raw), &f); err != nil {
				return nil, protocolErr("%s: %v", label, err)
			}
			filters = append(filters, f)
		}
		if label == "REQ" {
			return ReqMessage{SubscriptionID: id, Filters: filters}, nil
		}
		return CountMessage{SubscriptionID: id, Filters: filters}, nil

	case "CLOSE":
		id, err := wantString(arr, 1, label)
		if err != nil {
			return nil, err
		}
		return CloseMessage{SubscriptionID: id}, nil
	}
	return nil, protocolErr("unknown label %q", label)
}
