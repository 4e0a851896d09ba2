package output

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManagerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager(&buf)
	m.StartDisplay()

	ok := m.Register("Main.xap")
	bad := m.Register("Lib.xap")
	stopped := m.Register("Theme.xap")
	assert.Equal(t, StatusPending, m.GetStatus(ok))

	m.SetMessage(ok, "Loading Main.xap")
	assert.Equal(t, StatusActive, m.GetStatus(ok))
	m.SetProgress(ok, 50, 100, "Loading")
	m.Complete(ok, "")
	m.ReportError(bad, errors.New("404 not found"))
	m.Warn(stopped, "Cancelled Theme.xap")
	m.StopDisplay()
	m.StopDisplay()

	out := buf.String()
	assert.Contains(t, out, "Loaded Main.xap")
	assert.Contains(t, out, "Failed Lib.xap")
	assert.Contains(t, out, "Cancelled Theme.xap")
	assert.Contains(t, out, "Loaded 1 of 3")
	assert.Contains(t, out, "Failed 1 of 3")
	assert.Contains(t, out, "Cancelled 1 of 3")
	assert.Contains(t, out, "404 not found")
	assert.Equal(t, "unknown", m.GetStatus(99))
	assert.Equal(t, map[string]int{StatusSuccess: 1, StatusError: 1, StatusWarning: 1}, m.Counts())
}

func TestPrintProgressBar(t *testing.T) {
	assert.Contains(t, PrintProgressBar(50, 100, 10), "50.0%")
	assert.Contains(t, PrintProgressBar(500, 100, 10), "100.0%")
	assert.Contains(t, PrintProgressBar(-5, 0, 10), "0.0%")
}

func TestPrintHelpersWriteToOut(t *testing.T) {
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	defer func() { Out = prev }()

	PrintHeader("Loading 2 package sources")
	PrintWarning("Interrupted, aborting transfers")
	PrintSuccess("Activating http://host/App.xap")
	PrintInfo("  Template=Dark")
	PrintError("1 package sources failed")

	want := []string{
		"Loading 2 package sources",
		"Interrupted, aborting transfers",
		"Activating http://host/App.xap",
		"Template=Dark",
		"1 package sources failed",
	}
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if assert.Len(t, lines, len(want)) {
		for i := range want {
			assert.Contains(t, lines[i], want[i])
		}
	}
}
