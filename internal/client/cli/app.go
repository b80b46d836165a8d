package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/client/models"
	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/fieldsync/internal/client/services"
	"github.com/dmitrijs2005/fieldsync/internal/filex"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"go.uber.org/multierr"
)

const (
	databaseFile = "runner.db"
	blobsDir     = "blobs"
)

// App wires the runner's local store, services and sync engine for one
// command invocation or one interactive shell.
type App struct {
	config *config.Config
	log    logging.Logger
	out    io.Writer
	reader *bufio.Reader

	db      *sql.DB
	api     *client.HTTPClient
	events  *services.Events
	queue   *services.CaptureQueue
	catalog *services.CatalogService
	runner  *services.RunnerService
	engine  *services.SyncEngine
}

// NewApp opens the data directory and recovers work interrupted by a
// previous run: in-flight entries go back to pending, saved drafts that were
// never queued are enqueued, and completions left half done are finished.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger, in io.Reader, out io.Writer) (*App, error) {
	blobDir, err := filex.EnsureSubDir(cfg.DataDir, blobsDir)
	if err != nil {
		return nil, err
	}

	db, err := client.InitDatabase(ctx, filepath.Join(cfg.DataDir, databaseFile))
	if err != nil {
		logger.Error(ctx, "error initializing database", "error", err)
		return nil, err
	}

	token := cfg.AccessToken
	if token == "" {
		stored, ok, err := metadata.NewSQLiteRepository(db).Get(ctx, metadata.KeyAccessToken)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if ok {
			token = stored
		}
	}

	api := client.NewHTTPClient(cfg.ServerURL, token, cfg.RequestTimeout)
	events := services.NewEvents(logger)
	queue := services.NewCaptureQueue(db, blobDir, events, logger)
	catalog := services.NewCatalogService(db, api, logger)
	runner := services.NewRunnerService(db, catalog, queue, cfg.SaveDebounce, logger)
	engine := services.NewSyncEngine(queue, api, cfg, logger)

	if err := runner.Recover(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("recover: %w", err)
	}

	return &App{
		config:  cfg,
		log:     logger,
		out:     out,
		reader:  bufio.NewReader(in),
		db:      db,
		api:     api,
		events:  events,
		queue:   queue,
		catalog: catalog,
		runner:  runner,
		engine:  engine,
	}, nil
}

// Close flushes debounced saves and closes the store.
func (a *App) Close(ctx context.Context) error {
	return multierr.Append(a.runner.Close(ctx), a.db.Close())
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *App) table() *tabwriter.Writer {
	return tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
}

func (a *App) RefreshCatalog(ctx context.Context) error {
	report, err := a.catalog.Refresh(ctx)
	if err != nil {
		return err
	}
	a.printf("%d templates: %d new versions, %d updated drafts", report.Templates, report.Inserted, report.Updated)
	if report.Conflicts > 0 {
		a.printf(", %d changed published versions ignored", report.Conflicts)
	}
	a.printf("\n")
	return nil
}

func (a *App) ListCatalog(ctx context.Context) error {
	templates, err := a.catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(templates) == 0 {
		a.printf("catalog is empty, run `catalog refresh` while online\n")
		return nil
	}

	w := a.table()
	fmt.Fprintln(w, "TEMPLATE\tNAME\tVERSION\tSTATUS\tROWS\tID")
	for _, t := range templates {
		for _, v := range t.Versions {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n", t.ID, t.Name, v.Number, v.Status, len(v.Rows()), v.ID)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if at, err := a.catalog.RefreshedAt(ctx); err == nil && at != nil {
		a.printf("refreshed %s\n", at.Local().Format(time.RFC1123))
	}
	return nil
}

// Open starts an inspection against the latest published version of
// templateID, or against versionID when it is set.
func (a *App) Open(ctx context.Context, templateID, versionID, jobID, siteID string) error {
	var (
		sess *models.Session
		err  error
	)
	if versionID != "" {
		sess, err = a.runner.OpenVersion(ctx, templateID, versionID, jobID, siteID)
	} else {
		sess, err = a.runner.Open(ctx, templateID, jobID, siteID)
	}
	if err != nil {
		return err
	}
	a.printf("%s\n", sess.InspectionID)
	return nil
}

func (a *App) Answer(ctx context.Context, inspectionID, rowID, raw, notes string) error {
	d, err := a.runner.SetAnswer(ctx, inspectionID, rowID, raw, notes)
	if err != nil {
		return err
	}
	a.printf("%s = %s\n", d.RowID, d.Value)
	return nil
}

// Attach reads path and queues it as evidence for rowID. mimeType is
// derived from the file when empty.
func (a *App) Attach(ctx context.Context, inspectionID, rowID, path, mimeType string) error {
	blob, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if mimeType == "" {
		mimeType = detectMimeType(path, blob)
	}

	att, err := a.runner.AddAttachment(ctx, inspectionID, rowID, blob, mimeType, filepath.Base(path))
	if err != nil {
		return err
	}
	a.printf("attached %s (%s, %d bytes) to %s\n", att.Filename, att.MimeType, att.Size, att.RowID)
	return nil
}

func detectMimeType(path string, blob []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(blob)
}

func (a *App) Complete(ctx context.Context, inspectionID string) error {
	err := a.runner.Complete(ctx, inspectionID)
	var ce *services.CompletionError
	if errors.As(err, &ce) {
		for _, r := range ce.MissingAnswers {
			a.printf("missing answer: %s\n", r)
		}
		for _, r := range ce.MissingEvidence {
			a.printf("missing evidence: %s\n", r)
		}
	}
	if err != nil {
		return err
	}
	a.printf("%s completed, it will be submitted with the next sync\n", inspectionID)
	a.engine.SyncNow()
	return nil
}

// Status lists every inspection on the device, or shows one in detail.
func (a *App) Status(ctx context.Context, inspectionID string) error {
	if inspectionID != "" {
		return a.showInspection(ctx, inspectionID)
	}

	list, err := a.runner.List(ctx)
	if err != nil {
		return err
	}
	w := a.table()
	fmt.Fprintln(w, "INSPECTION\tTEMPLATE\tJOB\tSTATUS\tANSWERS\tPENDING\tUPDATED")
	for _, s := range list {
		pending, err := a.queue.GetPendingCount(ctx, s.InspectionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n", s.InspectionID, s.TemplateID, s.JobID,
			a.sessionStatus(s), len(s.Answers), pending, s.UpdatedAt.Local().Format(time.DateTime))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if at, err := metadata.NewSQLiteRepository(a.db).GetTime(ctx, metadata.KeyLastSyncAt); err == nil && at != nil {
		a.printf("last sync %s\n", at.Local().Format(time.RFC1123))
	}
	return nil
}

func (a *App) sessionStatus(s *models.Session) string {
	if s.Status == models.SessionCompleted && s.SyncedAt != nil {
		return "synced"
	}
	return string(s.Status)
}

func (a *App) showInspection(ctx context.Context, inspectionID string) error {
	s, err := a.runner.LoadRunnerProgress(ctx, inspectionID)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("inspection %s not found", inspectionID)
	}
	v, err := a.catalog.GetVersion(ctx, s.TemplateID, s.VersionID)
	if err != nil {
		return err
	}

	a.printf("inspection %s (%s)\ntemplate %s version %d, job %q site %q\n\n",
		s.InspectionID, a.sessionStatus(s), s.TemplateID, v.Number, s.JobID, s.SiteID)

	w := a.table()
	fmt.Fprintln(w, "ENTITY\tROW\tQUESTION\tANSWER\tSEQ\tEVIDENCE")
	for _, e := range v.SortedEntities() {
		for _, r := range e.Rows {
			answer, seq := "", ""
			if d, ok := s.Answers[r.ID]; ok {
				answer = d.Value.String()
				if d.Sequence > 0 {
					seq = fmt.Sprint(d.Sequence)
				} else {
					seq = "unsaved"
				}
			}
			evidence := ""
			if r.EvidenceRequired {
				evidence = "required"
			}
			if n, err := a.queue.GetPendingAttachmentCountForRow(ctx, s.InspectionID, r.ID); err == nil && n > 0 {
				evidence = fmt.Sprintf("%d uploading", n)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", e.Name, r.ID, r.Label(), answer, seq, evidence)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	pending, err := a.queue.GetPendingCount(ctx, s.InspectionID)
	if err != nil {
		return err
	}
	a.printf("\n%d entries pending, sync %s\n", pending, a.engine.State(s.InspectionID))
	return nil
}

// Sync drains one inspection, or all of them when inspectionID is empty.
func (a *App) Sync(ctx context.Context, inspectionID string) error {
	var (
		reports []*services.DrainReport
		err     error
	)
	if inspectionID != "" {
		var r *services.DrainReport
		r, err = a.engine.Drain(ctx, inspectionID)
		if r != nil {
			reports = append(reports, r)
		}
	} else {
		reports, err = a.engine.DrainAll(ctx)
	}

	sort.Slice(reports, func(i, j int) bool { return reports[i].InspectionID < reports[j].InspectionID })
	for _, r := range reports {
		a.printReport(r)
	}
	if len(reports) == 0 && err == nil {
		a.printf("nothing to sync\n")
	}
	return err
}

func (a *App) printReport(r *services.DrainReport) {
	var parts []string
	if r.Acknowledged > 0 {
		parts = append(parts, fmt.Sprintf("%d response entries acknowledged", r.Acknowledged))
	}
	if r.Uploaded > 0 {
		parts = append(parts, fmt.Sprintf("%d attachments uploaded", r.Uploaded))
	}
	if r.Completed {
		parts = append(parts, "completion accepted")
	}
	if r.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("%d deferred", r.Deferred))
	}
	if r.Failed > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", r.Failed))
	}
	if r.Blocked {
		parts = append(parts, "blocked, see `failures`")
	}
	if len(parts) == 0 {
		parts = append(parts, "up to date")
	}
	a.printf("%s: %s\n", r.InspectionID, strings.Join(parts, ", "))
}

// Failures lists entries that need a decision: retry or abandon.
func (a *App) Failures(ctx context.Context, inspectionID string) error {
	list, err := a.queue.Failures(ctx, inspectionID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		a.printf("no failed entries\n")
		return nil
	}
	w := a.table()
	fmt.Fprintln(w, "ENTRY\tINSPECTION\tKIND\tKEY\tATTEMPTS\tERROR")
	for _, e := range list {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n", e.ID, e.InspectionID, e.Kind, e.IdempotencyKey, e.RetryCount, e.LastError)
	}
	return w.Flush()
}

func (a *App) Retry(ctx context.Context, entryID int64) error {
	if err := a.queue.Retry(ctx, entryID); err != nil {
		return err
	}
	a.printf("entry %d is pending again\n", entryID)
	a.engine.SyncNow()
	return nil
}

// Abandon drops every queued entry of an inspection after confirmation.
func (a *App) Abandon(ctx context.Context, inspectionID string, confirmed bool) error {
	if !confirmed {
		answer, err := GetSimpleText(a.reader, fmt.Sprintf("Discard all unsynced work of %s? (yes/no)", inspectionID), a.out)
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "yes") {
			a.printf("kept\n")
			return nil
		}
	}
	res, err := a.runner.Abandon(ctx, inspectionID)
	if err != nil {
		return err
	}
	a.printf("%d entries discarded", res.Entries)
	if len(res.Attachments) > 0 {
		a.printf(", %d attachments removed", len(res.Attachments))
	}
	a.printf("; server holds answers up to sequence %d\n", res.Acknowledged)
	return nil
}

func (a *App) Prune(ctx context.Context) error {
	n, err := a.runner.Prune(ctx)
	if err != nil {
		return err
	}
	a.printf("%d synced inspections removed\n", n)
	return nil
}

// Login stores the access token used for every later request.
func (a *App) Login(ctx context.Context, token string) error {
	if token == "" {
		var err error
		token, err = GetSecret(a.reader, "Access token", a.out)
		if err != nil {
			return err
		}
	}
	if token == "" {
		return errors.New("empty token")
	}
	if err := metadata.NewSQLiteRepository(a.db).Set(ctx, metadata.KeyAccessToken, token); err != nil {
		return err
	}
	a.api.SetToken(token)
	a.printf("token saved\n")
	return nil
}

// Logout forgets the stored access token. Queued work stays on the device
// until the next login.
func (a *App) Logout(ctx context.Context) error {
	if err := metadata.NewSQLiteRepository(a.db).Delete(ctx, metadata.KeyAccessToken); err != nil {
		return err
	}
	a.api.SetToken("")
	a.printf("token removed\n")
	return nil
}

// Run keeps the sync engine going until ctx is done, logging queue changes.
func (a *App) Run(ctx context.Context) error {
	ch, cancel := a.events.Subscribe(16)
	defer cancel()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				a.log.Info(ctx, "pending entries changed", "inspection_id", ev.InspectionID, "pending", ev.Pending)
			}
		}
	}()

	a.log.Info(ctx, "sync engine started", "server", a.config.ServerURL)
	return a.engine.Run(ctx)
}

func (a *App) status(ctx context.Context) string {
	mode := "offline"
	if a.engine.Online() {
		mode = "online"
	}
	pending, _ := a.queue.GetPendingCount(ctx, "")
	return fmt.Sprintf("%s, %d pending", mode, pending)
}
