// Package server wires the sync server together: storage, blob store,
// services and the HTTP surface, plus the fieldserver commands.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmitrijs2005/fieldsync/internal/forms"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/auth"
	"github.com/dmitrijs2005/fieldsync/internal/server/blobstore"
	"github.com/dmitrijs2005/fieldsync/internal/server/config"
	"github.com/dmitrijs2005/fieldsync/internal/server/httpapi"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/memory"
	"github.com/dmitrijs2005/fieldsync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fieldsync/internal/server/services"
)

var (
	openPostgres = func(ctx context.Context, dsn string) (repomanager.RepositoryManager, error) {
		return repomanager.OpenPostgres(ctx, dsn)
	}

	openS3 = func(ctx context.Context, o blobstore.S3Options) (blobstore.Store, error) {
		return blobstore.NewS3Store(ctx, o)
	}
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	catalog     *services.CatalogService
	inspections *services.InspectionService
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	var (
		rm  repomanager.RepositoryManager
		err error
	)
	if c.DatabaseDSN == "" {
		logger.Warn(ctx, "no database configured, using the in-memory store")
		rm = memory.NewStore()
	} else {
		rm, err = openPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
	}

	var blobs blobstore.Store
	if c.S3Bucket == "" {
		logger.Warn(ctx, "no bucket configured, keeping attachments in memory")
		blobs = blobstore.NewMemoryStore()
	} else {
		blobs, err = openS3(ctx, blobstore.S3Options{
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
			AccessKey:    c.S3AccessKey,
			SecretKey:    c.S3SecretKey,
		})
		if err != nil {
			_ = rm.Close()
			return nil, fmt.Errorf("blob store init error: %w", err)
		}
	}

	return &App{
		config:      c,
		logger:      logger,
		repomanager: rm,
		catalog:     services.NewCatalogService(rm, logger),
		inspections: services.NewInspectionService(rm, blobs, c.MaxAttachmentBytes, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) httpServer() *httpapi.HTTPServer {
	return httpapi.NewHTTPServer(httpapi.Options{
		Address:            app.config.HTTPAddr,
		SecretKey:          app.config.SecretKey,
		RateLimitRPS:       app.config.RateLimitRPS,
		RateLimitBurst:     app.config.RateLimitBurst,
		MaxAttachmentBytes: app.config.MaxAttachmentBytes,
	}, app.logger, app.catalog, app.inspections)
}

// Run serves HTTP until ctx is cancelled or the process is signalled.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	return app.httpServer().Run(ctx)
}

// PublishFile publishes the YAML definition at path as the next version of
// templateID.
func (app *App) PublishFile(ctx context.Context, templateID, path string) (*forms.Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definition: %w", err)
	}
	def, err := forms.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	return app.catalog.PublishVersion(ctx, templateID, def)
}

func (app *App) Close() error {
	return app.repomanager.Close()
}

// IssueToken mints a bearer token for a technician.
func IssueToken(c *config.Config, technicianID string) (string, error) {
	return auth.GenerateToken(technicianID, []byte(c.SecretKey), c.TokenValidity)
}
