package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	RefreshCatalog(ctx context.Context) error
	ListCatalog(ctx context.Context) error
	Open(ctx context.Context, templateID, versionID, jobID, siteID string) error
	Answer(ctx context.Context, inspectionID, rowID, raw, notes string) error
	Attach(ctx context.Context, inspectionID, rowID, path, mimeType string) error
	Complete(ctx context.Context, inspectionID string) error
	Status(ctx context.Context, inspectionID string) error
	Sync(ctx context.Context, inspectionID string) error
	Failures(ctx context.Context, inspectionID string) error
	Retry(ctx context.Context, entryID int64) error
	Abandon(ctx context.Context, inspectionID string, confirmed bool) error
	Prune(ctx context.Context) error
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
}

const replHelp = `Available commands:
  refresh                              download the template catalog
  catalog                              list cached templates
  open <template> [job] [site]         start an inspection
  answer <inspection> <row> <value>    record an answer
  note <inspection> <row> <value>      record an answer with multi-line notes
  attach <inspection> <row> <path>     add evidence
  complete <inspection>                finish an inspection
  status [inspection]                  show local state
  sync [inspection]                    sync now
  failures [inspection]                list failed entries
  retry <entry>                        re-queue a failed entry
  abandon <inspection>                 discard unsynced work
  prune                                remove synced inspections
  login                                store an access token
  logout                               forget the access token
  exit | quit                          leave the shell`

var errUsage = errors.New("wrong arguments, type help")

// runREPL starts a simple read-eval-print loop over the runner commands.
//
// It reads a line from reader, parses the first token as the command and
// dispatches to methods on a. The prompt shows the current status from
// statusFn. The loop exits on EOF, when ctx is done, or when the user types
// "exit" or "quit".
//
// Command errors are printed and the loop continues; a failed sync or a
// rejected answer never ends the session.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for ctx.Err() == nil {
		printlnFn(fmt.Sprintf("fr [%s] > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		if cmd == "exit" || cmd == "quit" {
			printlnFn("Bye!")
			return
		}
		if err := dispatch(ctx, a, reader, cmd, args); err != nil {
			printlnFn("error:", err)
		}
	}
}

func dispatch(ctx context.Context, a execIface, reader *bufio.Reader, cmd string, args []string) error {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}

	switch cmd {
	case "help", "h":
		printlnFn(replHelp)
		return nil

	case "refresh":
		return a.RefreshCatalog(ctx)

	case "catalog":
		return a.ListCatalog(ctx)

	case "open":
		if len(args) < 1 {
			return errUsage
		}
		return a.Open(ctx, args[0], "", arg(1), arg(2))

	case "answer", "a":
		if len(args) < 3 {
			return errUsage
		}
		return a.Answer(ctx, args[0], args[1], strings.Join(args[2:], " "), "")

	case "note":
		if len(args) < 3 {
			return errUsage
		}
		printlnFn("Notes (press Enter on an empty line to finish):")
		notes, err := GetMultiline(reader, "", io.Discard)
		if err != nil {
			return err
		}
		return a.Answer(ctx, args[0], args[1], strings.Join(args[2:], " "), notes)

	case "attach":
		if len(args) < 3 {
			return errUsage
		}
		return a.Attach(ctx, args[0], args[1], args[2], arg(3))

	case "complete":
		if len(args) != 1 {
			return errUsage
		}
		return a.Complete(ctx, args[0])

	case "status", "s":
		return a.Status(ctx, arg(0))

	case "sync":
		return a.Sync(ctx, arg(0))

	case "failures":
		return a.Failures(ctx, arg(0))

	case "retry":
		if len(args) != 1 {
			return errUsage
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("entry id: %w", err)
		}
		return a.Retry(ctx, id)

	case "abandon":
		if len(args) != 1 {
			return errUsage
		}
		return a.Abandon(ctx, args[0], false)

	case "prune":
		return a.Prune(ctx)

	case "login":
		return a.Login(ctx, "")

	case "logout":
		return a.Logout(ctx)

	default:
		printlnFn("Unknown command:", cmd)
		return nil
	}
}

// Shell runs the interactive loop with the sync engine working in the
// background, so answers go out as soon as the server is reachable.
func (a *App) Shell(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- a.engine.Run(ctx) }()

	printlnFn("FieldSync runner. Type help for commands.")
	runREPL(ctx, a, func() string { return a.status(ctx) }, a.reader)

	cancel()
	return <-done
}
