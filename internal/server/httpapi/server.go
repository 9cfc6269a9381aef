package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dkocetkov/notesync/internal/common"
	"github.com/dkocetkov/notesync/internal/logging"
)

// Server runs the HTTP endpoint with graceful shutdown.
type Server struct {
	addr    string
	handler http.Handler
	logger  logging.Logger
}

func NewServer(addr string, h *Handler, authToken string, logger logging.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sync/batch", h.ApplyBatch)
	mux.HandleFunc("GET /v1/sync/pull", h.Pull)
	mux.HandleFunc("POST /v1/blobs/presign", h.Presign)
	mux.HandleFunc("GET /healthz", h.Health)

	var handler http.Handler = mux
	handler = authMiddleware(authToken, handler)
	handler = requestLogMiddleware(logger, handler)

	return &Server{addr: addr, handler: handler, logger: logger}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// authMiddleware rejects requests without the shared bearer token. Health
// checks stay open. An empty token disables the check.
func authMiddleware(token string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token != "" && r.URL.Path != "/healthz" {
			if r.Header.Get(common.AuthTokenHeaderName) != "Bearer "+token {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogMiddleware(logger logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path,
			"device", r.Header.Get(common.DeviceIDHeaderName),
			"took", time.Since(started))
	})
}
