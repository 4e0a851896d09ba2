package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tanq16/pkgloader/internal/utils"
)

const (
	StatusPending = "pending"
	StatusActive  = "active"
	StatusSuccess = "success"
	StatusError   = "error"
	StatusWarning = "warning"
)

// Entry is one line of the live display, normally a single package.
type Entry struct {
	ID          int
	Name        string
	Status      string
	Message     string
	Progress    string
	Complete    bool
	StartTime   time.Time
	LastUpdated time.Time
	Error       error
}

type ErrorReport struct {
	Name  string
	Error error
	Time  time.Time
}

// Manager renders package entries. On a terminal it redraws in place every
// displayTick; otherwise it prints a line whenever an entry finishes.
type Manager struct {
	out         io.Writer
	interactive bool

	mutex       sync.RWMutex
	entries     map[int]*Entry
	nextID      int
	numLines    int
	errors      []ErrorReport
	doneCh      chan struct{}
	displayTick time.Duration
	displayWg   sync.WaitGroup
	stopOnce    sync.Once
}

func NewManager(out io.Writer) *Manager {
	interactive := false
	if f, ok := out.(*os.File); ok {
		interactive = isTerminal(f)
	}
	return &Manager{
		out:         out,
		interactive: interactive,
		entries:     make(map[int]*Entry),
		doneCh:      make(chan struct{}),
		displayTick: 200 * time.Millisecond,
	}
}

func (m *Manager) Register(name string) int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.nextID++
	now := time.Now()
	m.entries[m.nextID] = &Entry{
		ID:          m.nextID,
		Name:        name,
		Status:      StatusPending,
		StartTime:   now,
		LastUpdated: now,
	}
	return m.nextID
}

func (m *Manager) update(id int, fn func(e *Entry)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if e, ok := m.entries[id]; ok {
		fn(e)
		e.LastUpdated = time.Now()
	}
}

func (m *Manager) SetMessage(id int, message string) {
	m.update(id, func(e *Entry) {
		e.Message = message
		if e.Status == StatusPending {
			e.Status = StatusActive
		}
	})
}

func (m *Manager) GetStatus(id int) string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	if e, ok := m.entries[id]; ok {
		return e.Status
	}
	return "unknown"
}

// SetProgress shows a bar under the entry. A non-positive total renders the
// byte count alone.
func (m *Manager) SetProgress(id int, current, total int64, text string) {
	m.update(id, func(e *Entry) {
		elapsed := time.Since(e.StartTime).Seconds()
		speed := utils.FormatSpeed(current, elapsed)
		if total <= 0 {
			e.Progress = fmt.Sprintf("%s %s %s", utils.FormatBytes(current), StyleSymbols["bullet"], speed)
			return
		}
		e.Progress = fmt.Sprintf("%s%s %s %s", PrintProgressBar(current, total, 30), text, StyleSymbols["bullet"], speed)
	})
}

func (m *Manager) Complete(id int, message string) {
	m.finish(id, StatusSuccess, message, nil)
}

func (m *Manager) Warn(id int, message string) {
	m.finish(id, StatusWarning, message, nil)
}

func (m *Manager) ReportError(id int, err error) {
	m.finish(id, StatusError, "", err)
}

func (m *Manager) finish(id int, status, message string, err error) {
	var line string
	m.update(id, func(e *Entry) {
		e.Complete = true
		e.Status = status
		e.Progress = ""
		e.Error = err
		switch {
		case message != "":
			e.Message = message
		case err != nil:
			e.Message = fmt.Sprintf("Failed %s", e.Name)
		default:
			e.Message = fmt.Sprintf("Loaded %s", e.Name)
		}
		if err != nil {
			m.errors = append(m.errors, ErrorReport{Name: e.Name, Error: err, Time: time.Now()})
		}
		line = m.renderEntry(e)
	})
	if !m.interactive && line != "" {
		fmt.Fprintln(m.out, line)
	}
}

func (m *Manager) GetStatusIndicator(status string) string {
	switch status {
	case StatusSuccess:
		return successStyle.Render(StyleSymbols["pass"])
	case StatusError:
		return errorStyle.Render(StyleSymbols["fail"])
	case StatusWarning:
		return warningStyle.Render(StyleSymbols["warning"])
	case StatusPending:
		return pendingStyle.Render(StyleSymbols["pending"])
	default:
		return infoStyle.Render(StyleSymbols["bullet"])
	}
}

func (m *Manager) styleMessage(e *Entry) string {
	switch e.Status {
	case StatusSuccess:
		return successStyle.Render(e.Message)
	case StatusError:
		return errorStyle.Render(e.Message)
	case StatusWarning:
		return warningStyle.Render(e.Message)
	default:
		return pendingStyle.Render(e.Message)
	}
}

func (m *Manager) renderEntry(e *Entry) string {
	elapsed := time.Since(e.StartTime).Round(time.Second)
	if e.Complete {
		elapsed = e.LastUpdated.Sub(e.StartTime).Round(time.Second)
	}
	message := e.Message
	if message == "" {
		message = "Waiting..."
	}
	shown := *e
	shown.Message = message
	return fmt.Sprintf("%s%s %s %s", strings.Repeat(" ", 2), m.GetStatusIndicator(e.Status), debugStyle.Render(elapsed.String()), m.styleMessage(&shown))
}

func (m *Manager) sortedEntries() (active, completed []*Entry) {
	all := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	for _, e := range all {
		if e.Complete {
			completed = append(completed, e)
		} else {
			active = append(active, e)
		}
	}
	return active, completed
}

func (m *Manager) updateDisplay() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	availableLines := getTerminalHeight() - 3
	if m.numLines > 0 {
		fmt.Fprintf(m.out, "\033[%dA\033[J", m.numLines)
	}
	active, completed := m.sortedEntries()

	needed := len(completed)
	for _, e := range active {
		needed++
		if e.Progress != "" {
			needed++
		}
	}
	if needed > availableLines {
		keep := max(availableLines-(needed-len(completed)), 0)
		if len(completed) > keep {
			completed = completed[len(completed)-keep:]
		}
	}

	lineCount := 0
	for _, e := range completed {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintln(m.out, m.renderEntry(e))
		lineCount++
	}
	for _, e := range active {
		if lineCount >= availableLines {
			break
		}
		fmt.Fprintln(m.out, m.renderEntry(e))
		lineCount++
		if e.Progress != "" && lineCount < availableLines {
			fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), streamStyle.Render(e.Progress))
			lineCount++
		}
	}
	m.numLines = lineCount
}

func (m *Manager) StartDisplay() {
	if !m.interactive {
		return
	}
	m.displayWg.Add(1)
	go func() {
		defer m.displayWg.Done()
		ticker := time.NewTicker(m.displayTick)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.updateDisplay()
			case <-m.doneCh:
				m.updateDisplay()
				return
			}
		}
	}()
}

// StopDisplay draws the final frame and prints the summary. It is safe to
// call more than once.
func (m *Manager) StopDisplay() {
	m.stopOnce.Do(func() {
		close(m.doneCh)
		m.displayWg.Wait()
		m.ShowSummary()
	})
}

func (m *Manager) displayErrors() {
	if len(m.errors) == 0 {
		return
	}
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Bold(true).Render("Errors:"))
	for i, err := range m.errors {
		fmt.Fprintf(m.out, "%s%s %s %s\n",
			strings.Repeat(" ", 2+2),
			errorStyle.Render(fmt.Sprintf("%d.", i+1)),
			debugStyle.Render(fmt.Sprintf("[%s]", err.Time.Format("15:04:05"))),
			errorStyle.Render(fmt.Sprintf("Package: %s", err.Name)))
		fmt.Fprintf(m.out, "%s%s\n", strings.Repeat(" ", 2+4), errorStyle.Render(fmt.Sprintf("Error: %v", err.Error)))
	}
}

// Counts returns how many entries ended in each status.
func (m *Manager) Counts() map[string]int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	counts := make(map[string]int)
	for _, e := range m.entries {
		counts[e.Status]++
	}
	return counts
}

func (m *Manager) ShowSummary() {
	counts := m.Counts()
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	total := len(m.entries)
	fmt.Fprintln(m.out)
	fmt.Fprintln(m.out, strings.Repeat(" ", 2)+success2Style.Render(fmt.Sprintf("Loaded %d of %d", counts[StatusSuccess], total)))
	if n := counts[StatusWarning]; n > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+warningStyle.Render(fmt.Sprintf("Cancelled %d of %d", n, total)))
	}
	if n := counts[StatusError]; n > 0 {
		fmt.Fprintln(m.out, strings.Repeat(" ", 2)+errorStyle.Render(fmt.Sprintf("Failed %d of %d", n, total)))
	}
	m.displayErrors()
	fmt.Fprintln(m.out)
}
