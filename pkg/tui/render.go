// Package tui holds the terminal-facing pieces of nostrbox: the passphrase
// prompt and the styled event and relay views.
package tui

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"nostrbox/pkg/event"
	"nostrbox/pkg/nip19"
	"nostrbox/pkg/relay"
)

const cardWidth = 60

var cardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("63")).
	Padding(0, 1).
	Width(cardWidth)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	timestampStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	keyStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
)

// RenderEvent draws an event as a bordered card relative to now
func RenderEvent(ev *event.Event, now time.Time) string {
	author := shortKey(ev.PubKey)
	header := fmt.Sprintf("%s  %s",
		headerStyle.Render("@"+author),
		timestampStyle.Render(FormatTimestamp(ev.CreatedAt.Time(), now)))

	content := processContent(ev.Content)

	// Annotate links with their media type
	urls := extractAllURLs(ev.Content)
	if len(urls) > 0 {
		content += "\n"
		for i, url := range urls {
			if len(urls) > 1 {
				content += fmt.Sprintf("\n[%d] %s", i+1, mediaType(url))
			} else {
				content += "\n" + mediaType(url)
			}
		}
	}

	footer := timestampStyle.Render(fmt.Sprintf("kind %d  id %s", ev.Kind, ev.ID.String()[:12]))
	return cardStyle.Render(fmt.Sprintf("%s\n%s\n%s", header, content, footer))
}

// FormatTimestamp renders t relative to now
func FormatTimestamp(t, now time.Time) string {
	diff := now.Sub(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		mins := int(diff.Minutes())
		if mins == 1 {
			return "1 min ago"
		}
		return fmt.Sprintf("%d mins ago", mins)
	case diff < 24*time.Hour:
		hours := int(diff.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case diff < 7*24*time.Hour:
		days := int(diff.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	case diff < 365*24*time.Hour:
		return t.Format("Jan 2")
	}
	return t.Format("Jan 2, 2006")
}

// RenderInfo draws a NIP-11 document
func RenderInfo(url string, info *relay.Info) string {
	var b strings.Builder
	name := info.Name
	if name == "" {
		name = url
	}
	b.WriteString(headerStyle.Render(name) + "\n")
	b.WriteString(timestampStyle.Render(url) + "\n")
	if info.Description != "" {
		b.WriteString("\n" + info.Description + "\n")
	}

	b.WriteString("\n")
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%-18s %s\n", k, v)
		}
	}
	row("software", strings.TrimSpace(info.Software+" "+info.Version))
	row("contact", info.Contact)
	if info.PubKey != "" {
		row("pubkey", info.PubKey)
	}
	if len(info.SupportedNIPs) > 0 {
		nips := make([]string, len(info.SupportedNIPs))
		for i, n := range info.SupportedNIPs {
			nips[i] = fmt.Sprint(n)
		}
		row("nips", strings.Join(nips, " "))
	}

	if l := info.Limitation; l != nil {
		b.WriteString("\n" + keyStyle.Render("limits") + "\n")
		if l.MaxMessageLength > 0 {
			row("max message", humanize.IBytes(uint64(l.MaxMessageLength)))
		}
		if l.MaxContentLength > 0 {
			row("max content", humanize.IBytes(uint64(l.MaxContentLength)))
		}
		if l.MaxSubscriptions > 0 {
			row("max subscriptions", humanize.Comma(int64(l.MaxSubscriptions)))
		}
		if l.MaxEventTags > 0 {
			row("max event tags", humanize.Comma(int64(l.MaxEventTags)))
		}
		if l.MaxLimit > 0 {
			row("max limit", humanize.Comma(int64(l.MaxLimit)))
		}
		if l.AuthRequired {
			row("auth", "required")
		}
		if l.PaymentRequired {
			row("payment", "required")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func shortKey(pk event.PubKey) string {
	npub, err := nip19.EncodePublicKey(pk)
	if err != nil {
		return pk.String()[:8] + "..."
	}
	return npub[:12] + "..."
}

// processContent replaces nostr: references with short readable forms
func processContent(content string) string {
	words := strings.Fields(content)
	processed := make([]string, 0, len(words))

	for _, word := range words {
		cleanWord := strings.TrimRight(word, ".,;:!?)]")
		trailingPunct := word[len(cleanWord):]

		ref, ok := strings.CutPrefix(cleanWord, "nostr:")
		if !ok {
			processed = append(processed, word)
			continue
		}
		ent, err := nip19.Decode(ref)
		if err != nil {
			processed = append(processed, word)
			continue
		}

		switch {
		case ent.Prefix == nip19.PrefixPublicKey:
			processed = append(processed, "@"+ref[:12]+"..."+trailingPunct)
		case ent.Profile != nil:
			processed = append(processed, "@"+shortKey(ent.Profile.PublicKey)+trailingPunct)
		case ent.Prefix == nip19.PrefixNote:
			processed = append(processed, "🔗[Event:"+hex.EncodeToString(ent.Data)[:8]+"...]"+trailingPunct)
		case ent.Event != nil:
			processed = append(processed, "🔗[Event:"+hex.EncodeToString(ent.Event.ID[:])[:8]+"...]"+trailingPunct)
		default:
			processed = append(processed, word)
		}
	}
	return strings.Join(processed, " ")
}

func extractAllURLs(text string) []string {
	var urls []string
	for _, word := range strings.Fields(text) {
		// Remove trailing punctuation
		cleanWord := strings.TrimRight(word, ".,;:!?)]")
		if strings.HasPrefix(cleanWord, "http://") || strings.HasPrefix(cleanWord, "https://") {
			urls = append(urls, cleanWord)
		}
	}
	return urls
}

func mediaType(url string) string {
	lowerURL := strings.ToLower(url)
	hasSuffix := func(exts ...string) bool {
		for _, ext := range exts {
			if strings.HasSuffix(lowerURL, ext) {
				return true
			}
		}
		return false
	}
	hasHost := func(hosts ...string) bool {
		for _, h := range hosts {
			if strings.Contains(lowerURL, h) {
				return true
			}
		}
		return false
	}

	switch {
	case hasSuffix(".jpg", ".jpeg", ".png", ".webp"):
		return "📷 Image"
	case hasSuffix(".gif"):
		return "🎞️  GIF"
	case hasSuffix(".mp4", ".webm", ".mkv"):
		return "🎬 Video"
	case hasHost("youtube.com", "youtu.be", "twitch.tv", "vimeo.com"):
		return "📺 Stream"
	}
	return "🔗 Link"
}
