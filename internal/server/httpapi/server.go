// Package httpapi exposes the sync server over HTTP/JSON.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/dmitrijs2005/fieldsync/internal/server/services"
)

type HTTPServer struct {
	address     string
	catalog     *services.CatalogService
	inspections *services.InspectionService
	logger      logging.Logger
	jwtSecret   []byte
	limiter     *technicianLimiter
	maxBody     int64
}

// Options carries the tunables of the HTTP surface.
type Options struct {
	Address            string
	SecretKey          string
	RateLimitRPS       float64
	RateLimitBurst     int
	MaxAttachmentBytes int64
}

func NewHTTPServer(o Options, l logging.Logger, cs *services.CatalogService, is *services.InspectionService) *HTTPServer {
	return &HTTPServer{
		address:     o.Address,
		catalog:     cs,
		inspections: is,
		logger:      l.With("module", "http_server"),
		jwtSecret:   []byte(o.SecretKey),
		limiter:     newTechnicianLimiter(o.RateLimitRPS, o.RateLimitBurst),
		maxBody:     o.MaxAttachmentBytes,
	}
}

// Handler returns the routed handler with authentication and rate limiting
// applied to everything except /healthz.
func (s *HTTPServer) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /forms/templates", s.listTemplates)
	api.HandleFunc("POST /forms/templates/{templateId}/versions", s.createVersion)
	api.HandleFunc("POST /forms/versions/{versionId}/entities", s.addEntity)
	api.HandleFunc("POST /forms/versions/{versionId}/publish", s.publishVersion)
	api.HandleFunc("GET /inspections/{id}", s.getInspection)
	api.HandleFunc("POST /inspections/{id}/responses", s.submitResponses)
	api.HandleFunc("POST /inspections/{id}/complete", s.completeInspection)
	api.HandleFunc("POST /inspections/{id}/rows/{rowId}/attachments", s.uploadAttachment)
	api.HandleFunc("GET /inspections/{id}/pdf", s.renderPDF)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	root.Handle("/", s.accessTokenMiddleware(s.rateLimitMiddleware(api)))
	return s.logRequests(root)
}

func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error(ctx, "shutdown failed", "error", err)
		}
	}()

	s.logger.Info(ctx, "Starting HTTP server", "address", s.address)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
