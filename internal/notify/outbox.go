package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// OutboxSender saves rendered notifications as JSON files instead of
// sending them. Used when no live transport is configured, so operators
// can still inspect what would have gone out.
type OutboxSender struct {
	Dir string
}

type outboxEntry struct {
	SavedAt    time.Time `json:"saved_at"`
	Recipients []string  `json:"recipients,omitempty"`
	Subject    string    `json:"subject"`
	BodyHTML   string    `json:"body_html,omitempty"`
	BodyText   string    `json:"body_text,omitempty"`
}

// Send writes the message to a timestamped file under Dir.
func (o *OutboxSender) Send(ctx context.Context, msg *Message) error {
	if o.Dir == "" {
		return fmt.Errorf("%w: outbox directory not configured", ErrTransportUnavailable)
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: create outbox: %v", ErrTransportUnavailable, err)
	}

	entry := outboxEntry{
		SavedAt:    time.Now(),
		Recipients: msg.Recipients,
		Subject:    msg.Subject,
		BodyHTML:   msg.BodyHTML,
		BodyText:   msg.BodyText,
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("notify: marshal outbox entry: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", entry.SavedAt.Format("20060102-150405.000"), slug(msg.Subject))
	path := filepath.Join(o.Dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("notify: write outbox entry: %w", err)
	}
	return nil
}

// slug reduces a subject to a short filesystem-safe fragment.
func slug(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	if b.Len() == 0 {
		return "notification"
	}
	return strings.Trim(b.String(), "-")
}
