package app

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/require"

	"github.com/brensch/zipmailer/internal/dispatch"
)

func job(file string) dispatch.Job {
	return dispatch.Job{FileName: file, PartOrdinal: 1, PartTotal: 2, Problem: "no valid recipients"}
}

func TestSendModelRecordsEvents(t *testing.T) {
	m := NewSendModel("zipmailer send", 3, dispatch.NewCancelToken())

	m.Update(EventMsg{Event: dispatch.Event{Kind: dispatch.EventSent, Job: job("Delhi_1of2.zip"), To: []string{"a@x.com"}, Done: 1, Total: 3}})
	m.Update(EventMsg{Event: dispatch.Event{Kind: dispatch.EventFailed, Job: job("Delhi_2of2.zip"), Err: errors.New("550 mailbox unavailable"), Done: 2, Total: 3}})
	m.Update(EventMsg{Event: dispatch.Event{Kind: dispatch.EventBlocked, Job: job("Pune_1of1.zip"), Done: 3, Total: 3}})

	view := m.View()
	require.Contains(t, view, "(3/3)")
	require.Contains(t, view, "Delhi_1of2.zip")
	require.Contains(t, view, "a@x.com")
	require.Contains(t, view, "550 mailbox unavailable")
	require.Contains(t, view, "no valid recipients")
}

func TestSendModelCancelKeyCancelsToken(t *testing.T) {
	tok := dispatch.NewCancelToken()
	m := NewSendModel("zipmailer send", 1, tok)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.True(t, tok.Cancelled(context.Background()))
	require.Equal(t, Cancelling, m.State)
	require.Contains(t, m.View(), "Stopping")
	_ = cmd

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	require.Equal(t, tea.Quit(), cmd())
}

func TestSendModelFinishes(t *testing.T) {
	m := NewSendModel("zipmailer send", 1, nil)
	sum := dispatch.Summary{Attempted: 1, Sent: 1}
	_, cmd := m.Update(NewTaskFinished(time.Now(), sum, nil))
	require.Equal(t, Finished, m.State)
	require.Equal(t, tea.Quit(), cmd())

	got, err := m.Result()
	require.NoError(t, err)
	require.Equal(t, sum, got)
	require.Contains(t, m.View(), "1 sent")
}

func TestStartPostsFinishedMessage(t *testing.T) {
	m := NewSendModel("zipmailer send", 0, nil)
	wantErr := errors.New("transport down")
	require.Nil(t, m.Start(func() (dispatch.Summary, error) { return dispatch.Summary{Failed: 1}, wantErr })())

	msg := m.waitForActivityCmd()()
	finished, ok := msg.(TaskFinishedMsg)
	require.True(t, ok)
	require.ErrorIs(t, finished.Err, wantErr)
	require.Equal(t, 1, finished.Summary.Failed)
}
