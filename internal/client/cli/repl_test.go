package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeExec struct {
	calls []string
	fail  error
}

func (f *fakeExec) record(format string, args ...any) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.fail
}

func (f *fakeExec) RefreshCatalog(context.Context) error { return f.record("refresh") }
func (f *fakeExec) ListCatalog(context.Context) error    { return f.record("catalog") }
func (f *fakeExec) Open(_ context.Context, templateID, versionID, jobID, siteID string) error {
	return f.record("open %s %q %q %q", templateID, versionID, jobID, siteID)
}
func (f *fakeExec) Answer(_ context.Context, id, row, raw, notes string) error {
	return f.record("answer %s %s %q %q", id, row, raw, notes)
}
func (f *fakeExec) Attach(_ context.Context, id, row, path, mimeType string) error {
	return f.record("attach %s %s %s %q", id, row, path, mimeType)
}
func (f *fakeExec) Complete(_ context.Context, id string) error { return f.record("complete %s", id) }
func (f *fakeExec) Status(_ context.Context, id string) error   { return f.record("status %q", id) }
func (f *fakeExec) Sync(_ context.Context, id string) error     { return f.record("sync %q", id) }
func (f *fakeExec) Failures(_ context.Context, id string) error { return f.record("failures %q", id) }
func (f *fakeExec) Retry(_ context.Context, entryID int64) error {
	return f.record("retry %d", entryID)
}
func (f *fakeExec) Abandon(_ context.Context, id string, confirmed bool) error {
	return f.record("abandon %s %v", id, confirmed)
}
func (f *fakeExec) Prune(context.Context) error { return f.record("prune") }
func (f *fakeExec) Login(_ context.Context, token string) error {
	return f.record("login %q", token)
}
func (f *fakeExec) Logout(context.Context) error { return f.record("logout") }

func capturePrintln(t *testing.T) *[]string {
	t.Helper()
	var lines []string
	orig := printlnFn
	printlnFn = func(a ...any) (int, error) {
		lines = append(lines, fmt.Sprintln(a...))
		return 0, nil
	}
	t.Cleanup(func() { printlnFn = orig })
	return &lines
}

func TestRunREPL_DispatchesCommands(t *testing.T) {
	capturePrintln(t)

	input := strings.Join([]string{
		"help",
		"refresh",
		"catalog",
		"open boiler J-17 S-4",
		"answer i-1 r-flame pass",
		"answer i-1 r-state needs a sweep",
		"note i-1 r-pressure 1.5",
		"soot on the flue",
		"checked twice",
		"",
		"attach i-1 r-photo /tmp/flue.jpg",
		"complete i-1",
		"status",
		"s i-1",
		"sync",
		"failures i-1",
		"retry 7",
		"abandon i-1",
		"prune",
		"login",
		"logout",
		"exit",
		"sync",
	}, "\n")

	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "offline, 0 pending" }, rdr(input))

	assert.Equal(t, []string{
		"refresh",
		"catalog",
		`open boiler "" "J-17" "S-4"`,
		`answer i-1 r-flame "pass" ""`,
		`answer i-1 r-state "needs a sweep" ""`,
		`answer i-1 r-pressure "1.5" "soot on the flue\nchecked twice"`,
		`attach i-1 r-photo /tmp/flue.jpg ""`,
		"complete i-1",
		`status ""`,
		`status "i-1"`,
		`sync ""`,
		`failures "i-1"`,
		"retry 7",
		"abandon i-1 false",
		"prune",
		`login ""`,
		"logout",
	}, exec.calls)
}

func TestRunREPL_UsageErrorsAndUnknownCommands(t *testing.T) {
	lines := capturePrintln(t)

	input := "open\nanswer i-1 r-1\nretry x\nfoobar\nquit\n"
	exec := &fakeExec{}
	runREPL(context.Background(), exec, func() string { return "s" }, rdr(input))

	assert.Empty(t, exec.calls)
	out := strings.Join(*lines, "")
	assert.Contains(t, out, errUsage.Error())
	assert.Contains(t, out, "entry id:")
	assert.Contains(t, out, "Unknown command: foobar")
	assert.Contains(t, out, "Bye!")
}

func TestRunREPL_CommandErrorsDoNotEndTheLoop(t *testing.T) {
	lines := capturePrintln(t)

	exec := &fakeExec{fail: errors.New("server unavailable")}
	runREPL(context.Background(), exec, func() string { return "s" }, rdr("sync\nstatus"))

	assert.Equal(t, []string{`sync ""`, `status ""`}, exec.calls)
	assert.Contains(t, strings.Join(*lines, ""), "error: server unavailable")
}

func TestRunREPL_StopsWhenContextIsDone(t *testing.T) {
	capturePrintln(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	exec := &fakeExec{}
	runREPL(ctx, exec, func() string { return "s" }, bufio.NewReader(strings.NewReader("sync\n")))

	assert.Empty(t, exec.calls)
}
