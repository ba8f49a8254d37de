package cli

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-lostfound-client/internal/domain"
)

var titler = cases.Title(language.English)

// label turns a machine value such as "waiting_for_peer" or "IN_PROGRESS"
// into "Waiting For Peer" / "In Progress".
func label(s string) string {
	return titler.String(strings.ToLower(strings.ReplaceAll(s, "_", " ")))
}

// timeAgo renders a coarse relative time.
func timeAgo(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

func closeLabel(st domain.CloseState) string {
	switch st {
	case domain.ClosePeerRequested:
		return "peer asked to close"
	case domain.CloseWaitingOnPeer:
		return "waiting for peer"
	case domain.CloseClosed:
		return "closed"
	}
	return "open"
}

func sender(m domain.Message, self int64) string {
	if m.SenderID == self {
		return "me"
	}
	return "peer"
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
