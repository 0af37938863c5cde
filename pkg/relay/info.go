package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxInfoSize = 1 << 20

// Info is a NIP-11 relay information document
type Info struct {
	Name           string      `json:"name,omitempty"`
	Description    string      `json:"description,omitempty"`
	Banner         string      `json:"banner,omitempty"`
	Icon           string      `json:"icon,omitempty"`
	PubKey         string      `json:"pubkey,omitempty"`
	Contact        string      `json:"contact,omitempty"`
	SupportedNIPs  []int       `json:"supported_nips,omitempty"`
	Software       string      `json:"software,omitempty"`
	Version        string      `json:"version,omitempty"`
	Limitation     *Limitation `json:"limitation,omitempty"`
	RelayCountries []string    `json:"relay_countries,omitempty"`
	LanguageTags   []string    `json:"language_tags,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	PostingPolicy  string      `json:"posting_policy,omitempty"`
	PaymentsURL    string      `json:"payments_url,omitempty"`
}

type Limitation struct {
	MaxMessageLength    int   `json:"max_message_length,omitempty"`
	MaxSubscriptions    int   `json:"max_subscriptions,omitempty"`
	MaxFilters          int   `json:"max_filters,omitempty"`
	MaxLimit            int   `json:"max_limit,omitempty"`
	MaxSubidLength      int   `json:"max_subid_length,omitempty"`
	MaxEventTags        int   `json:"max_event_tags,omitempty"`
	MaxContentLength    int   `json:"max_content_length,omitempty"`
	MinPowDifficulty    int   `json:"min_pow_difficulty,omitempty"`
	AuthRequired        bool  `json:"auth_required,omitempty"`
	PaymentRequired     bool  `json:"payment_required,omitempty"`
	RestrictedWrites    bool  `json:"restricted_writes,omitempty"`
	CreatedAtLowerLimit int64 `json:"created_at_lower_limit,omitempty"`
	CreatedAtUpperLimit int64 `json:"created_at_upper_limit,omitempty"`
	DefaultLimit        int   `json:"default_limit,omitempty"`
}

// Supports reports whether the relay advertises nip
func (i *Info) Supports(nip int) bool {
	for _, n := range i.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}

// NormalizeURL adds a wss scheme when missing, lowercases scheme and host and
// drops a trailing slash.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty relay url", ErrConnection)
	}
	if !strings.Contains(raw, "://") {
		raw = "wss://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: invalid relay url: %v", ErrConnection, err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: relay url must use ws or wss, got %q", ErrConnection, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: relay url has no host", ErrConnection)
	}
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}

func httpURL(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("%w: invalid relay url: %v", ErrConnection, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrConnection, u.Scheme)
	}
	return u.String(), nil
}

// FetchInfo requests the NIP-11 document over plain HTTP(S). It does not need
// an open session.
func FetchInfo(ctx context.Context, relayURL string, hc *http.Client) (*Info, error) {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	target, err := httpURL(relayURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrConnection, err)
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := hc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, fmt.Errorf("%w: fetching relay info: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: fetching relay info: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: relay info returned status %d", ErrProtocol, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxInfoSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading relay info: %v", ErrConnection, err)
	}

	var info Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("%w: failed to parse relay info: %v", ErrProtocol, err)
	}
	return &info, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
