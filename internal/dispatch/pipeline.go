package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/brensch/zipmailer/internal/ledger"
)

// Ledger is the part of the send log the pipeline writes and resumes from.
type Ledger interface {
	Append(ctx context.Context, e ledger.Entry) (int64, error)
	FetchPending(ctx context.Context, batchID string) ([]ledger.Entry, error)
}

// Options tune one run.
type Options struct {
	Delay              time.Duration // Pause after every attempt
	ReconnectEvery     int           // Sends per connection before recycling, 0 never
	TestMode           bool
	TestAddress        string
	FanOut             bool // One message per recipient
	StopGroupOnFailure bool // Skip a group's remaining parts after a failed one
}

// Job is one prepared part of one group.
type Job struct {
	GroupIndex   int
	Destination  string
	Recipients   []string
	MatchKeys    []string
	PartOrdinal  int
	PartTotal    int
	FileName     string
	Path         string
	DocCount     int
	Dispatchable bool
	Problem      string
}

// Part renders the ledger part identifier, "2/5".
func (j Job) Part() string { return fmt.Sprintf("%d/%d", j.PartOrdinal, j.PartTotal) }

// Summary counts what a run did.
type Summary struct {
	Attempted int
	Sent      int
	Failed    int // Includes Missing
	Blocked   int // Non-dispatchable jobs
	Skipped   int // Parts skipped after an earlier failure in the group
	Missing   int // Resume entries whose part file is gone
	Cancelled bool
}

// EventKind classifies progress events.
type EventKind string

const (
	EventSent    EventKind = "sent"
	EventFailed  EventKind = "failed"
	EventBlocked EventKind = "blocked"
	EventSkipped EventKind = "skipped"
	EventMissing EventKind = "missing"
)

// Event is emitted after every unit so a progress view can follow along.
type Event struct {
	Kind  EventKind
	Job   Job
	To    []string
	Err   error
	Done  int
	Total int
}

// Pipeline drives pending → send → outcome for every unit, one at a time.
type Pipeline struct {
	ledger    Ledger
	transport Transport
	composer  *Composer
	opts      Options
	logger    *slog.Logger

	// OnEvent, if set, is called synchronously after every unit.
	OnEvent func(Event)

	sleep       func(ctx context.Context, d time.Duration) error
	connected   bool
	sendsOnConn int
	done, total int
}

// New builds a pipeline. The transport is opened lazily on the first send.
func New(l Ledger, t Transport, c *Composer, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		ledger:    l,
		transport: t,
		composer:  c,
		opts:      opts,
		logger:    logger.With(slog.String("component", "dispatch")),
		sleep:     sleepContext,
	}
}

// Run sends every job in order. Logged rows are never rolled back; a ledger
// failure or a failed reconnect ends the run with an error. Cancellation of ctx
// is honoured between units only: a send already under way completes and its
// outcome is logged.
func (p *Pipeline) Run(ctx context.Context, batchID string, jobs []Job, tok Token) (Summary, error) {
	var sum Summary
	defer p.disconnect()
	wctx := context.WithoutCancel(ctx)

	p.done, p.total = 0, 0
	for _, j := range jobs {
		if j.Dispatchable {
			p.total += len(p.units(j.Recipients))
		} else {
			p.total++
		}
	}
	p.logger.Info("Starting dispatch run.",
		slog.String("batch_id", batchID),
		slog.Int("jobs", len(jobs)),
		slog.Int("units", p.total),
		slog.Bool("test_mode", p.opts.TestMode))

	failedGroups := make(map[int]bool)
	for _, job := range jobs {
		if p.cancelled(ctx, tok) {
			sum.Cancelled = true
			break
		}
		l := p.logger.With(slog.String("file", job.FileName), slog.String("destination", job.Destination))

		if !job.Dispatchable {
			l.Warn("Blocked non-dispatchable part.", slog.String("problem", job.Problem))
			sum.Blocked++
			p.emit(Event{Kind: EventBlocked, Job: job, Err: errors.New(job.Problem)})
			continue
		}
		if p.opts.StopGroupOnFailure && failedGroups[job.GroupIndex] {
			l.Warn("Skipping part after an earlier failure in the same group.")
			sum.Skipped += len(p.units(job.Recipients))
			p.emit(Event{Kind: EventSkipped, Job: job})
			continue
		}

		for _, intended := range p.units(job.Recipients) {
			if p.cancelled(ctx, tok) {
				sum.Cancelled = true
				break
			}
			entry := ledger.Entry{
				BatchID:     batchID,
				Destination: job.Destination,
				Recipients:  intended,
				SendTo:      p.targets(intended),
				MatchKeys:   job.MatchKeys,
				Part:        job.Part(),
				FileName:    job.FileName,
				DocCount:    job.DocCount,
				Status:      ledger.StatusPending,
			}
			pendingID, err := p.ledger.Append(wctx, entry)
			if err != nil {
				return sum, err
			}
			sent, err := p.attempt(wctx, job, entry, pendingID, &sum, l)
			if err != nil {
				return sum, err
			}
			if !sent {
				failedGroups[job.GroupIndex] = true
			}
			if err := p.sleep(ctx, p.opts.Delay); err != nil {
				sum.Cancelled = true
				break
			}
		}
		if sum.Cancelled {
			break
		}
	}

	p.logger.Info("Dispatch run finished.",
		slog.Int("sent", sum.Sent),
		slog.Int("failed", sum.Failed),
		slog.Int("blocked", sum.Blocked),
		slog.Int("skipped", sum.Skipped),
		slog.Bool("cancelled", sum.Cancelled))
	return sum, nil
}

// Resume re-attempts every open ledger entry of batchID. lookup maps a stored
// file name to the part's current path in that batch. Only outcome rows are
// written, each resolving its entry.
func (p *Pipeline) Resume(ctx context.Context, batchID string, lookup func(fileName string) (string, bool), tok Token) (Summary, error) {
	var sum Summary
	defer p.disconnect()
	wctx := context.WithoutCancel(ctx)

	if batchID == "" {
		return sum, errors.New("resume needs a batch id")
	}
	open, err := p.ledger.FetchPending(ctx, batchID)
	if err != nil {
		return sum, fmt.Errorf("fetch open entries: %w", err)
	}
	p.done, p.total = 0, len(open)
	p.logger.Info("Resuming open send log entries.", slog.String("batch_id", batchID), slog.Int("entries", len(open)))

	for _, e := range open {
		if p.cancelled(ctx, tok) {
			sum.Cancelled = true
			break
		}
		l := p.logger.With(slog.String("file", e.FileName), slog.Int64("resolves_id", e.ID))
		if e.BatchID != batchID {
			l.Warn("Skipping entry of another batch.", slog.String("entry_batch", e.BatchID))
			continue
		}
		job, err := jobFromEntry(e)
		if err != nil {
			bad := outcomeEntry(e, ledger.StatusFailed, err.Error())
			if _, lerr := p.ledger.Append(wctx, bad); lerr != nil {
				return sum, lerr
			}
			l.Error("Open entry cannot be re-sent; marked failed.", "error", err)
			sum.Failed++
			p.emit(Event{Kind: EventFailed, Job: job, To: e.Recipients, Err: err})
			continue
		}

		path, ok := lookup(e.FileName)
		if !ok {
			reason := "file missing: " + e.FileName
			missing := outcomeEntry(e, ledger.StatusFailed, reason)
			if _, err := p.ledger.Append(wctx, missing); err != nil {
				return sum, err
			}
			l.Warn("Part file no longer present; marked failed.")
			sum.Missing++
			sum.Failed++
			p.emit(Event{Kind: EventMissing, Job: job, To: e.Recipients, Err: errors.New(reason)})
			continue
		}
		job.Path = path

		retry := e
		retry.SendTo = p.targets(e.Recipients)
		if _, err := p.attempt(wctx, job, retry, e.ID, &sum, l); err != nil {
			return sum, err
		}
		if err := p.sleep(ctx, p.opts.Delay); err != nil {
			sum.Cancelled = true
			break
		}
	}

	p.logger.Info("Resume finished.",
		slog.Int("sent", sum.Sent),
		slog.Int("failed", sum.Failed),
		slog.Int("missing", sum.Missing),
		slog.Bool("cancelled", sum.Cancelled))
	return sum, nil
}

// attempt sends one unit and appends its outcome row resolving resolvesID.
// It reports whether the send succeeded; a returned error is fatal. Callers pass
// a context without cancellation so a delivered message is always logged.
func (p *Pipeline) attempt(ctx context.Context, job Job, entry ledger.Entry, resolvesID int64, sum *Summary, l *slog.Logger) (bool, error) {
	msg, err := p.composer.Compose(job)
	if err == nil {
		msg.To = entry.SendTo
		msg.Attachments = []string{job.Path}
		sum.Attempted++
		err = p.send(ctx, msg)
	}

	if err == nil {
		sent := outcomeEntry(entry, ledger.StatusSent, "")
		sent.ResolvesID = resolvesID
		if _, lerr := p.ledger.Append(ctx, sent); lerr != nil {
			return true, lerr
		}
		l.Info("Sent part.", slog.String("part", job.Part()), slog.Any("to", entry.SendTo))
		sum.Sent++
		p.emit(Event{Kind: EventSent, Job: job, To: entry.SendTo})
		return true, nil
	}

	failed := outcomeEntry(entry, ledger.StatusFailed, err.Error())
	failed.ResolvesID = resolvesID
	if _, lerr := p.ledger.Append(ctx, failed); lerr != nil {
		return false, errors.Join(lerr, err)
	}
	l.Error("Send failed.", slog.String("part", job.Part()), slog.Any("to", entry.SendTo), "error", err)
	sum.Failed++
	p.emit(Event{Kind: EventFailed, Job: job, To: entry.SendTo, Err: err})

	if errors.Is(err, ErrConnection) {
		l.Warn("Connection failure, reconnecting once.")
		p.disconnect()
		if rerr := p.connect(ctx); rerr != nil {
			return false, fmt.Errorf("%w: %w", ErrTransportDown, errors.Join(err, rerr))
		}
	}
	return false, nil
}

// send opens or recycles the connection as needed, then submits msg.
func (p *Pipeline) send(ctx context.Context, msg Message) error {
	if p.connected && p.opts.ReconnectEvery > 0 && p.sendsOnConn >= p.opts.ReconnectEvery {
		p.logger.Debug("Recycling transport connection.", slog.Int("sends", p.sendsOnConn))
		p.disconnect()
	}
	if !p.connected {
		if err := p.connect(ctx); err != nil {
			return err
		}
	}
	p.sendsOnConn++
	return p.transport.Send(ctx, msg)
}

func (p *Pipeline) connect(ctx context.Context) error {
	if err := p.transport.Open(ctx); err != nil {
		if !errors.Is(err, ErrConnection) {
			err = fmt.Errorf("%w: %w", ErrConnection, err)
		}
		return err
	}
	p.connected = true
	p.sendsOnConn = 0
	return nil
}

func (p *Pipeline) disconnect() {
	if !p.connected {
		return
	}
	if err := p.transport.Close(); err != nil {
		p.logger.Debug("Closing transport failed.", "error", err)
	}
	p.connected = false
	p.sendsOnConn = 0
}

// units splits a recipient set into send units: one per address when fanning out.
func (p *Pipeline) units(recipients []string) [][]string {
	if !p.opts.FanOut || len(recipients) <= 1 {
		return [][]string{recipients}
	}
	out := make([][]string, 0, len(recipients))
	for _, r := range recipients {
		out = append(out, []string{r})
	}
	return out
}

// targets applies test mode substitution.
func (p *Pipeline) targets(intended []string) []string {
	if p.opts.TestMode {
		return []string{p.opts.TestAddress}
	}
	return intended
}

func (p *Pipeline) cancelled(ctx context.Context, tok Token) bool {
	if ctx.Err() != nil {
		return true
	}
	return tok != nil && tok.Cancelled(ctx)
}

func (p *Pipeline) emit(ev Event) {
	p.done++
	ev.Done, ev.Total = p.done, p.total
	if p.OnEvent != nil {
		p.OnEvent(ev)
	}
}

func outcomeEntry(from ledger.Entry, status ledger.Status, errText string) ledger.Entry {
	out := from
	out.ID = 0
	out.CreatedAt = time.Time{}
	out.Status = status
	out.Error = errText
	out.ResolvesID = from.ID
	return out
}

func jobFromEntry(e ledger.Entry) (Job, error) {
	j := Job{
		Destination:  e.Destination,
		Recipients:   e.Recipients,
		MatchKeys:    e.MatchKeys,
		FileName:     e.FileName,
		DocCount:     e.DocCount,
		Dispatchable: true,
	}
	if _, err := fmt.Sscanf(e.Part, "%d/%d", &j.PartOrdinal, &j.PartTotal); err != nil {
		return j, fmt.Errorf("invalid part %q: %w", e.Part, err)
	}
	if j.PartOrdinal < 1 || j.PartTotal < j.PartOrdinal {
		return j, fmt.Errorf("invalid part %q", e.Part)
	}
	return j, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
