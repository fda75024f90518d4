package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/brensch/zipmailer/internal/dispatch"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNewRequiresHostAndSender(t *testing.T) {
	_, err := New(Config{Host: "smtp.example.org"}, quiet())
	require.Error(t, err)
	_, err = New(Config{Sender: "a@example.org"}, quiet())
	require.Error(t, err)
}

func TestBuildMessage(t *testing.T) {
	attachment := filepath.Join(t.TempDir(), "Delhi_1of2.zip")
	require.NoError(t, os.WriteFile(attachment, []byte("PK\x03\x04"), 0o644))

	s, err := New(Config{Host: "smtp.example.org", Port: 587, StartTLS: true, Sender: "exams@example.org", Password: "secret"}, quiet())
	require.NoError(t, err)

	m, err := s.build(dispatch.Message{
		To:          []string{"a@x.com", "b@x.com"},
		Subject:     "Documents for Delhi (1/2)",
		Body:        "Please find attached.",
		HTML:        "<p>Please find attached.</p>",
		Attachments: []string{attachment},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = m.WriteTo(&buf)
	require.NoError(t, err)
	out := buf.String()
	require.Contains(t, out, "Subject: Documents for Delhi (1/2)")
	require.Contains(t, out, "<a@x.com>")
	require.Contains(t, out, "<b@x.com>")
	require.Contains(t, out, "exams@example.org")
	require.Contains(t, out, "text/html")
	require.Contains(t, out, `filename="Delhi_1of2.zip"`)
}

func TestBuildRejectsBadRecipient(t *testing.T) {
	s, err := New(Config{Host: "smtp.example.org", Port: 25, Sender: "exams@example.org"}, quiet())
	require.NoError(t, err)
	_, err = s.build(dispatch.Message{To: []string{"not an address"}, Subject: "x", Body: "y"})
	require.Error(t, err)
}

func TestOpenFailureIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close()) // Nothing listens on port now

	s, err := New(Config{Host: "127.0.0.1", Port: port, Sender: "exams@example.org", Timeout: 2 * time.Second}, quiet())
	require.NoError(t, err)
	err = s.Check(context.Background())
	require.ErrorIs(t, err, dispatch.ErrConnection)
}

func TestIsConnectionError(t *testing.T) {
	require.True(t, isConnectionError(&mail.SendError{Reason: mail.ErrConnCheck}))
	require.True(t, isConnectionError(fmt.Errorf("write: %w", io.EOF)))
	require.True(t, isConnectionError(&net.OpError{Op: "write", Err: errors.New("broken pipe")}))
	require.False(t, isConnectionError(&mail.SendError{Reason: mail.ErrSMTPRcptTo}))
	require.False(t, isConnectionError(errors.New("550 mailbox unavailable")))
}
