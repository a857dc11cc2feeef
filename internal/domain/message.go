package domain

import (
	"strings"
	"time"
)

// RawMessage is an email as handed to the sync endpoint: unparsed body
// plus the headers the classifier cares about.
type RawMessage struct {
	// SourceID identifies the message across syncs, typically the
	// provider message ID.
	SourceID string `json:"source_id"`

	// Sender is the From header, either "Name <addr@host>" or a bare
	// address.
	Sender string `json:"sender"`

	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`

	// RawBody is the HTML (or plain) body as received.
	RawBody string `json:"raw_body"`

	// PlainBody is an optional pre-extracted text alternative, used as
	// the fallback when HTML extraction yields nothing.
	PlainBody string `json:"plain_body,omitempty"`

	// Headers carries the routing headers (List-Unsubscribe, List-Id,
	// Precedence) keyed by name.
	Headers map[string]string `json:"headers,omitempty"`
}

// Header returns a header value by case-insensitive name.
func (m *RawMessage) Header(name string) string {
	if v, ok := m.Headers[name]; ok {
		return v
	}
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// SenderAddress extracts the bare address from the Sender field.
func (m *RawMessage) SenderAddress() string {
	s := m.Sender
	if open := strings.LastIndex(s, "<"); open >= 0 {
		if close := strings.LastIndex(s, ">"); close > open {
			s = s[open+1 : close]
		}
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// SenderName extracts the display name from the Sender field, empty
// when the field is a bare address.
func (m *RawMessage) SenderName() string {
	s := m.Sender
	open := strings.LastIndex(s, "<")
	if open < 0 {
		return ""
	}
	name := strings.TrimSpace(s[:open])
	return strings.Trim(name, `"`)
}

// SenderDomain returns the domain part of the sender address.
func (m *RawMessage) SenderDomain() string {
	addr := m.SenderAddress()
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return ""
	}
	return addr[at+1:]
}
