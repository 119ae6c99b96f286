package email

import (
	"context"
	"time"
)

// SendRequest is one outbound message.
type SendRequest struct {
	To      []string
	From    string // empty uses the sender's default, e.g. "Panda Connect <events@school.example>"
	Subject string
	HTML    string
	ReplyTo string
}

// SendResult is the provider's acknowledgement of a message.
type SendResult struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers notification mail for the events board.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
	SendBatch(ctx context.Context, reqs []SendRequest) ([]SendResult, error)
}

// PerRecipient fans a message out to one request per address so parents never see each other.
func PerRecipient(tmpl SendRequest, addresses []string) []SendRequest {
	reqs := make([]SendRequest, 0, len(addresses))
	for _, addr := range addresses {
		r := tmpl
		r.To = []string{addr}
		reqs = append(reqs, r)
	}
	return reqs
}
