// Package watest provides a recording WhatsApp sender for tests.
package watest

import (
	"context"
	"fmt"
	"sync"

	"chatshop/internal/wa"
)

// Message kinds recorded by Sender.
const (
	KindText    = "text"
	KindButtons = "buttons"
	KindList    = "list"
	KindImage   = "image"
)

// Sent is one recorded outbound message.
type Sent struct {
	Kind        string
	Creds       wa.Credentials
	To          string
	Body        string
	ButtonLabel string
	Buttons     []wa.Button
	Sections    []wa.Section
	ImageURL    string
}

// Sender records every send. When Fail is set, sends return its result
// instead of succeeding and nothing is recorded.
type Sender struct {
	mu   sync.Mutex
	sent []Sent
	read []string
	seq  int

	Fail func(Sent) error
}

var _ wa.Sender = (*Sender)(nil)

func (s *Sender) record(msg Sent) (wa.SendResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		if err := s.Fail(msg); err != nil {
			return wa.SendResponse{}, err
		}
	}
	s.seq++
	s.sent = append(s.sent, msg)
	return wa.SendResponse{MessageID: fmt.Sprintf("wamid.test.%d", s.seq)}, nil
}

func (s *Sender) SendText(_ context.Context, creds wa.Credentials, to, body string) (wa.SendResponse, error) {
	return s.record(Sent{Kind: KindText, Creds: creds, To: to, Body: body})
}

func (s *Sender) SendButtons(_ context.Context, creds wa.Credentials, to, body string, buttons []wa.Button) (wa.SendResponse, error) {
	return s.record(Sent{Kind: KindButtons, Creds: creds, To: to, Body: body, Buttons: buttons})
}

func (s *Sender) SendList(_ context.Context, creds wa.Credentials, to, body, buttonLabel string, sections []wa.Section) (wa.SendResponse, error) {
	return s.record(Sent{Kind: KindList, Creds: creds, To: to, Body: body, ButtonLabel: buttonLabel, Sections: sections})
}

func (s *Sender) SendImage(_ context.Context, creds wa.Credentials, to, imageURL, caption string) (wa.SendResponse, error) {
	return s.record(Sent{Kind: KindImage, Creds: creds, To: to, Body: caption, ImageURL: imageURL})
}

func (s *Sender) MarkRead(_ context.Context, _ wa.Credentials, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, messageID)
	return nil
}

// Sent returns a copy of the recorded messages.
func (s *Sender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}

// Last returns the most recent message, or the zero value.
func (s *Sender) Last() Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return Sent{}
	}
	return s.sent[len(s.sent)-1]
}

// Read returns the message ids marked as read.
func (s *Sender) Read() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.read))
	copy(out, s.read)
	return out
}

// Reset forgets recorded messages.
func (s *Sender) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
	s.read = nil
}

// ButtonIDs returns the ids of the buttons of msg.
func (m Sent) ButtonIDs() []string {
	ids := make([]string, 0, len(m.Buttons))
	for _, b := range m.Buttons {
		ids = append(ids, b.ID)
	}
	return ids
}

// RowIDs returns the ids of every list row of msg.
func (m Sent) RowIDs() []string {
	var ids []string
	for _, sec := range m.Sections {
		for _, row := range sec.Rows {
			ids = append(ids, row.ID)
		}
	}
	return ids
}
