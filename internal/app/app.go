package app

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/brensch/zipmailer/internal/dispatch"
)

var (
	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressBarStyle = lipgloss.NewStyle().Padding(0, 1)
	headerStyle      = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	statusStyle      = map[dispatch.EventKind]lipgloss.Style{
		dispatch.EventSent:    lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		dispatch.EventFailed:  lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dispatch.EventMissing: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dispatch.EventBlocked: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		dispatch.EventSkipped: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
	}
)

// line is one finished unit in the log below the progress bar.
type line struct {
	Kind   dispatch.EventKind
	File   string
	Part   string
	To     string
	ErrMsg string
	At     time.Time
}

// SendModel renders a running dispatch. The pipeline runs on its own
// goroutine and reports through Listener; q or ctrl+c cancels the token and
// the view stays up until the current send settles.
type SendModel struct {
	Title string
	State SendState

	token    *dispatch.CancelToken
	spinner  spinner.Model
	progress progress.Model

	mu    sync.RWMutex
	lines []line
	done  int
	total int

	summary dispatch.Summary
	err     error
	start   time.Time

	termWidth  int
	termHeight int

	run       func() (dispatch.Summary, error)
	uiMsgChan chan tea.Msg
	quit      chan struct{}
	quitOnce  sync.Once
}

func NewSendModel(title string, total int, token *dispatch.CancelToken) *SendModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &SendModel{
		Title:      title,
		State:      Sending,
		token:      token,
		spinner:    s,
		progress:   progress.New(progress.WithDefaultGradient()),
		total:      total,
		termWidth:  100,
		termHeight: 30,
		uiMsgChan:  make(chan tea.Msg),
		quit:       make(chan struct{}),
	}
}

// Listener returns the callback to install as dispatch.Pipeline.OnEvent.
func (m *SendModel) Listener() func(dispatch.Event) {
	return func(ev dispatch.Event) { m.post(EventMsg{Event: ev}) }
}

// WithRun sets the send that Init starts.
func (m *SendModel) WithRun(run func() (dispatch.Summary, error)) *SendModel {
	m.run = run
	return m
}

// Start returns the command that runs the send on a goroutine.
func (m *SendModel) Start(run func() (dispatch.Summary, error)) tea.Cmd {
	return func() tea.Msg {
		m.start = time.Now()
		go func() {
			sum, err := run()
			m.post(NewTaskFinished(m.start, sum, err))
		}()
		return nil
	}
}

// Result is the summary and error of the finished run.
func (m *SendModel) Result() (dispatch.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summary, m.err
}

// post delivers msg to the view unless the program has already exited.
func (m *SendModel) post(msg tea.Msg) {
	select {
	case m.uiMsgChan <- msg:
	case <-m.quit:
	}
}

func (m *SendModel) stop() {
	m.quitOnce.Do(func() { close(m.quit) })
}

func (m *SendModel) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, m.waitForActivityCmd()}
	if m.run != nil {
		cmds = append(cmds, m.Start(m.run))
	}
	return tea.Batch(cmds...)
}

func (m *SendModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd
	rearm := false

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			switch m.State {
			case Sending:
				m.State = Cancelling
				if m.token != nil {
					m.token.Cancel()
				}
			case Cancelling:
				// Second press leaves without waiting; the run keeps its ledger rows.
				m.stop()
				return m, tea.Quit
			case Finished:
				m.stop()
				return m, tea.Quit
			}
		}
	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.progress.Width = max(0, m.termWidth-4)
	case EventMsg:
		m.record(msg.Event)
		var percent float64
		if m.total > 0 {
			percent = float64(m.done) / float64(m.total)
		}
		cmds = append(cmds, m.progress.SetPercent(percent))
		rearm = true
	case TaskFinishedMsg:
		m.mu.Lock()
		m.summary, m.err = msg.Summary, msg.Err
		m.mu.Unlock()
		m.State = Finished
		m.stop()
		return m, tea.Quit
	case spinner.TickMsg:
		if m.State != Finished {
			m.spinner, cmd = m.spinner.Update(msg)
			cmds = append(cmds, cmd)
		}
	case progress.FrameMsg:
		progModel, frameCmd := m.progress.Update(msg)
		if newModel, ok := progModel.(progress.Model); ok {
			m.progress = newModel
			cmds = append(cmds, frameCmd)
		}
	}

	if rearm {
		cmds = append(cmds, m.waitForActivityCmd())
	}
	return m, tea.Batch(cmds...)
}

func (m *SendModel) record(ev dispatch.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := line{
		Kind: ev.Kind,
		File: ev.Job.FileName,
		Part: ev.Job.Part(),
		To:   strings.Join(ev.To, ", "),
		At:   time.Now(),
	}
	if ev.Err != nil {
		l.ErrMsg = ev.Err.Error()
	} else if ev.Kind == dispatch.EventBlocked {
		l.ErrMsg = ev.Job.Problem
	}
	m.lines = append(m.lines, l)
	m.done = ev.Done
	if ev.Total > 0 {
		m.total = ev.Total
	}
}

func (m *SendModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("--- " + m.Title + " ---"))
	b.WriteString("\n\n")
	b.WriteString(m.viewProgress())
	b.WriteString("\n")

	switch m.State {
	case Sending:
		b.WriteString(infoStyle.Render("Sending... 'q' or Ctrl+C to stop after the current message."))
	case Cancelling:
		b.WriteString(errorStyle.Render("Stopping after the current message... press again to leave now."))
	case Finished:
		sum, err := m.Result()
		b.WriteString(fmt.Sprintf("Finished: %d sent, %d failed, %d blocked, %d skipped.", sum.Sent, sum.Failed, sum.Blocked, sum.Skipped))
		if err != nil {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(wrapText(err.Error(), m.termWidth-4)))
		}
	}
	return b.String()
}

func (m *SendModel) viewProgress() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s Dispatching parts\n", m.spinner.View()))
	b.WriteString(progressBarStyle.Render(m.progress.View()))
	b.WriteString(fmt.Sprintf(" (%d/%d)\n\n", m.done, m.total))

	maxLines := max(1, m.termHeight-10)
	startIdx := 0
	if len(m.lines) > maxLines {
		startIdx = len(m.lines) - maxLines
	}
	if len(m.lines) == 0 {
		return b.String()
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-32s | %-5s | %-8s | %s", "File", "Part", "Status", "To")))
	b.WriteString("\n")
	b.WriteString(strings.Repeat("-", max(1, m.termWidth)))
	b.WriteString("\n")
	for _, l := range m.lines[startIdx:] {
		style, ok := statusStyle[l.Kind]
		if !ok {
			style = infoStyle
		}
		b.WriteString(fmt.Sprintf("%-32s | %-5s | %s | %s", truncate(l.File, 32), l.Part, style.Render(fmt.Sprintf("%-8s", l.Kind)), l.To))
		if l.ErrMsg != "" {
			b.WriteString("\n")
			b.WriteString(errorStyle.Render(truncate("  -> "+l.ErrMsg, max(8, m.termWidth-1))))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (m *SendModel) waitForActivityCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.uiMsgChan:
			return msg
		case <-m.quit:
			return nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func wrapText(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return text
	}
	var result strings.Builder
	var currentLine strings.Builder
	for _, word := range strings.Fields(text) {
		if currentLine.Len() > 0 && currentLine.Len()+len(word)+1 > maxWidth {
			result.WriteString(currentLine.String())
			result.WriteString("\n")
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	result.WriteString(currentLine.String())
	return result.String()
}
