package services

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/api"
	"github.com/dmitrijs2005/fieldsync/internal/client/client"
	"github.com/dmitrijs2005/fieldsync/internal/client/config"
	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/blobstore"
	"github.com/dmitrijs2005/fieldsync/internal/server/httpapi"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/memory"
	srvservices "github.com/dmitrijs2005/fieldsync/internal/server/services"
	"github.com/stretchr/testify/require"
)

const (
	testSecret     = "test-secret"
	testTechnician = "tech-1"
	testTemplate   = "boiler"
)

var boilerDefinition = forms.Definition{
	Name: "Boiler annual service",
	Entities: []forms.Entity{
		{
			Name:     "Burner",
			Required: true,
			Rows: []forms.Row{
				{ID: "r-flame", Component: "Burner", Activity: "Flame picture", FieldType: forms.FieldPassFail},
				{ID: "r-pressure", Component: "Burner", Activity: "Gas pressure", FieldType: forms.FieldNumber, Unit: "mbar"},
			},
		},
		{
			Name: "Flue",
			Rows: []forms.Row{
				{ID: "r-photo", Component: "Flue", Activity: "Terminal photo", FieldType: forms.FieldText, EvidenceRequired: true},
				{ID: "r-state", Component: "Flue", Activity: "Condition", FieldType: forms.FieldChoice, Choices: []string{"good", "fair", "poor"}},
			},
		},
	},
}

// syncServer is a complete sync server backed by the in-memory store.
type syncServer struct {
	url         string
	catalog     *srvservices.CatalogService
	inspections *srvservices.InspectionService
}

func newSyncServer(t *testing.T) *syncServer {
	t.Helper()
	log := logging.NewNop()
	store := memory.NewStore()
	cs := srvservices.NewCatalogService(store, log)
	is := srvservices.NewInspectionService(store, blobstore.NewMemoryStore(), 0, log)

	ts := httptest.NewServer(httpapi.NewHTTPServer(httpapi.Options{SecretKey: testSecret}, log, cs, is).Handler())
	t.Cleanup(ts.Close)

	return &syncServer{url: ts.URL, catalog: cs, inspections: is}
}

func (s *syncServer) publish(t *testing.T, def forms.Definition) *forms.Version {
	t.Helper()
	v, err := s.catalog.PublishVersion(context.Background(), testTemplate, &def)
	require.NoError(t, err)
	return v
}

func (s *syncServer) inspection(t *testing.T, id string) *api.InspectionView {
	t.Helper()
	v, err := s.inspections.Inspection(context.Background(), testTechnician, id)
	require.NoError(t, err)
	return v
}

func (s *syncServer) client(t *testing.T) *client.HTTPClient {
	t.Helper()
	tok, err := auth.GenerateToken(testTechnician, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return client.NewHTTPClient(s.url, tok, time.Second)
}

// flakyClient forwards to a real client unless an override is installed.
// It counts calls per method.
type flakyClient struct {
	client.Client

	mu       sync.Mutex
	submit   func(ctx context.Context, id string, b *api.ResponseBatch) (*api.BatchAck, error)
	complete func(ctx context.Context, id string, r *api.CompletionRequest) (*api.CompletionAck, error)
	upload   func(ctx context.Context, up *client.AttachmentUpload) (*api.AttachmentRef, error)

	submits   atomic.Int32
	completes atomic.Int32
	uploads   atomic.Int32
	batches   []api.ResponseBatch
}

func (f *flakyClient) SubmitResponses(ctx context.Context, id string, b *api.ResponseBatch) (*api.BatchAck, error) {
	f.submits.Add(1)
	f.mu.Lock()
	f.batches = append(f.batches, *b)
	override := f.submit
	f.mu.Unlock()
	if override != nil {
		return override(ctx, id, b)
	}
	return f.Client.SubmitResponses(ctx, id, b)
}

func (f *flakyClient) CompleteInspection(ctx context.Context, id string, r *api.CompletionRequest) (*api.CompletionAck, error) {
	f.completes.Add(1)
	f.mu.Lock()
	override := f.complete
	f.mu.Unlock()
	if override != nil {
		return override(ctx, id, r)
	}
	return f.Client.CompleteInspection(ctx, id, r)
}

func (f *flakyClient) UploadAttachment(ctx context.Context, up *client.AttachmentUpload) (*api.AttachmentRef, error) {
	f.uploads.Add(1)
	f.mu.Lock()
	override := f.upload
	f.mu.Unlock()
	if override != nil {
		return override(ctx, up)
	}
	return f.Client.UploadAttachment(ctx, up)
}

func (f *flakyClient) setSubmit(fn func(ctx context.Context, id string, b *api.ResponseBatch) (*api.BatchAck, error)) {
	f.mu.Lock()
	f.submit = fn
	f.mu.Unlock()
}

func (f *flakyClient) setUpload(fn func(ctx context.Context, up *client.AttachmentUpload) (*api.AttachmentRef, error)) {
	f.mu.Lock()
	f.upload = fn
	f.mu.Unlock()
}

func (f *flakyClient) sentBatches() []api.ResponseBatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]api.ResponseBatch(nil), f.batches...)
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.RequestTimeout = time.Second
	cfg.SaveDebounce = 0
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 4 * time.Millisecond
	cfg.RetryJitterPercent = 0
	cfg.MaxAttemptsPerDrain = 3
	cfg.OnlineCheckInterval = 20 * time.Millisecond
	cfg.SyncInterval = time.Hour
	return cfg
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := client.InitDatabase(context.Background(), filepath.Join(t.TempDir(), "runner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// harness wires the runner services to a live sync server.
type harness struct {
	server  *syncServer
	client  *flakyClient
	db      *sql.DB
	events  *Events
	queue   *CaptureQueue
	catalog *CatalogService
	runner  *RunnerService
	engine  *SyncEngine
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	log := logging.NewNop()

	srv := newSyncServer(t)
	srv.publish(t, boilerDefinition)
	fc := &flakyClient{Client: srv.client(t)}

	db := openTestDB(t)
	events := NewEvents(log)
	q := NewCaptureQueue(db, t.TempDir(), events, log)
	cat := NewCatalogService(db, fc, log)
	runner := NewRunnerService(db, cat, q, cfg.SaveDebounce, log)
	engine := NewSyncEngine(q, fc, cfg, log)

	_, err := cat.Refresh(context.Background())
	require.NoError(t, err)

	return &harness{
		server:  srv,
		client:  fc,
		db:      db,
		events:  events,
		queue:   q,
		catalog: cat,
		runner:  runner,
		engine:  engine,
	}
}

func (h *harness) open(t *testing.T) string {
	t.Helper()
	s, err := h.runner.Open(context.Background(), testTemplate, "job-1", "site-1")
	require.NoError(t, err)
	return s.InspectionID
}

func (h *harness) answer(t *testing.T, id, rowID, raw string) {
	t.Helper()
	_, err := h.runner.SetAnswer(context.Background(), id, rowID, raw, "")
	require.NoError(t, err)
}

func (h *harness) pending(t *testing.T, id string) int {
	t.Helper()
	n, err := h.queue.GetPendingCount(context.Background(), id)
	require.NoError(t, err)
	return n
}
