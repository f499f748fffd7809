package gmail

import (
	"encoding/base64"
	"net/mail"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Messages struct {
	Items []*Message
}

// MessageRef is the shallow list-endpoint representation of a message.
type MessageRef struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
}

type Message struct {
	ID       string `json:"id,omitempty"`
	ThreadID string `json:"threadId,omitempty"`
	// InternalDate is epoch milliseconds as a string, Gmail's authoritative
	// receipt time.
	InternalDate string   `json:"internalDate,omitempty"`
	Snippet      string   `json:"snippet,omitempty"`
	Payload      *Payload `json:"payload,omitempty"`
}

type Payload struct {
	MimeType string     `json:"mimeType,omitempty"`
	Headers  []*Header  `json:"headers,omitempty"`
	Body     *BodyData  `json:"body,omitempty"`
	Parts    []*Payload `json:"parts,omitempty"`
}

type Header struct {
	Name  string `json:"name,omitempty"`
	Value string `json:"value,omitempty"`
}

type BodyData struct {
	Size int    `json:"size,omitempty"`
	Data string `json:"data,omitempty"`
}

// Header returns the value of the named header, case-insensitively.
func (m *Message) Header(name string) string {
	if m.Payload == nil {
		return ""
	}
	for _, header := range m.Payload.Headers {
		if strings.EqualFold(header.Name, name) {
			return header.Value
		}
	}
	return ""
}

func (m *Message) Sender() string {
	return m.Header("From")
}

func (m *Message) Subject() string {
	return m.Header("Subject")
}

// ReceivedAt resolves the receipt time, preferring Gmail's internal date over
// the sender-controlled Date header.
func (m *Message) ReceivedAt() time.Time {
	if ms, err := strconv.ParseInt(m.InternalDate, 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms).UTC()
	}

	if date := m.Header("Date"); date != "" {
		if parsed, err := mail.ParseDate(date); err == nil {
			return parsed.UTC()
		}
	}

	return time.Time{}
}

// BodyText extracts the textual content of the message, preferring text/plain
// parts and falling back to text/html.
func (m *Message) BodyText() string {
	if m.Payload == nil {
		return ""
	}

	if text := extractText(m.Payload, "text/plain"); text != "" {
		return text
	}

	return extractText(m.Payload, "text/html")
}

func extractText(p *Payload, mimeType string) string {
	if p == nil {
		return ""
	}

	if p.MimeType == mimeType && p.Body != nil {
		return strings.TrimSpace(decodeBody(p.Body.Data))
	}

	var builder strings.Builder
	for _, part := range p.Parts {
		if text := extractText(part, mimeType); text != "" {
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return builder.String()
}

// decodeBody decodes Gmail's base64url body data, tolerating both padded and
// unpadded input.
func decodeBody(data string) string {
	if data == "" {
		return ""
	}

	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
	if err != nil {
		return ""
	}
	return string(decoded)
}

func (m *Messages) Len() int {
	return len(m.Items)
}

func (m *Messages) FindByID(id string) *Message {
	for _, message := range m.Items {
		if message.ID == id {
			return message
		}
	}
	return nil
}

// SortByReceived orders messages by receipt time, oldest first. This is the
// arrival order the selection run consumes; ties fall back to message id to
// keep runs reproducible.
func (m *Messages) SortByReceived() {
	sort.SliceStable(m.Items, func(i, j int) bool {
		ti, tj := m.Items[i].ReceivedAt(), m.Items[j].ReceivedAt()
		if ti.Equal(tj) {
			return m.Items[i].ID < m.Items[j].ID
		}
		return ti.Before(tj)
	})
}
