package dispatch

import (
	"context"
	"errors"
)

var (
	// ErrConnection marks transport errors caused by the connection rather than the message.
	// Transports wrap it so the pipeline knows to reconnect.
	ErrConnection = errors.New("transport connection failed")
	// ErrTransportDown stops a run after the single reconnect attempt failed.
	ErrTransportDown = errors.New("transport down after reconnect attempt")
)

// Message is one outbound mail.
type Message struct {
	To          []string
	Subject     string
	Body        string // Plain text
	HTML        string // Optional alternative
	Attachments []string
}

// Transport submits messages over a connection it manages.
type Transport interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, msg Message) error
	Close() error
}
