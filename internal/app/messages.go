package app

import (
	"fmt"
	"time"

	"github.com/brensch/zipmailer/internal/dispatch"
)

// EventMsg carries one pipeline event into the view.
type EventMsg struct {
	Event dispatch.Event
}

// TaskFinishedMsg signals that the send run returned.
type TaskFinishedMsg struct {
	Summary   dispatch.Summary
	Err       error
	StartTime time.Time
	EndTime   time.Time
}

func NewTaskFinished(start time.Time, sum dispatch.Summary, err error) TaskFinishedMsg {
	return TaskFinishedMsg{Summary: sum, Err: err, StartTime: start, EndTime: time.Now()}
}

func (e EventMsg) String() string {
	return fmt.Sprintf("Event %s: %s %s", e.Event.Kind, e.Event.Job.FileName, e.Event.Job.Part())
}
func (tf TaskFinishedMsg) String() string {
	return fmt.Sprintf("TaskFinished sent=%d failed=%d", tf.Summary.Sent, tf.Summary.Failed)
}
