package receipt

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/zombor/receipt-tracker/internal/auth"
)

// Server handles HTTP requests for receipts
type Server struct {
	service *Service
	authn   auth.Authenticator
	mux     *http.ServeMux
	http    *http.Server
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, authn auth.Authenticator) *Server {
	return NewServerWithMux(service, authn, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, authn auth.Authenticator, mux *http.ServeMux) *Server {
	s := &Server{
		service: service,
		authn:   authn,
		mux:     mux,
	}
	s.http = &http.Server{
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.registerRoutes()
	return s
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth resolves the user and stores it in the request context
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.authn.Authenticate(r)
		if err != nil || userID == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="Receipt Tracker"`)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	}
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	// Drafts: scan, review, save
	s.mux.HandleFunc("POST /api/scans", s.requireAuth(s.handleScan))
	s.mux.HandleFunc("GET /api/drafts/{id}", s.requireAuth(s.handleGetDraft))
	s.mux.HandleFunc("PATCH /api/drafts/{id}", s.requireAuth(s.handleEditDraft))
	s.mux.HandleFunc("DELETE /api/drafts/{id}", s.requireAuth(s.handleDiscardDraft))
	s.mux.HandleFunc("POST /api/drafts/{id}/items", s.requireAuth(s.handleAddDraftItem))
	s.mux.HandleFunc("DELETE /api/drafts/{id}/items/{index}", s.requireAuth(s.handleRemoveDraftItem))
	s.mux.HandleFunc("POST /api/drafts/{id}/save", s.requireAuth(s.handleSaveDraft))

	// Saved receipts
	s.mux.HandleFunc("GET /api/receipts/{id}", s.requireAuth(s.handleGetReceipt))
	s.mux.HandleFunc("DELETE /api/receipts/{id}", s.requireAuth(s.handleDeleteReceipt))
	s.mux.HandleFunc("GET /api/receipts", s.requireAuth(s.handleListReceipts))
	s.mux.HandleFunc("GET /api/items/{name}/history", s.requireAuth(s.handleItemHistory))
	s.mux.HandleFunc("GET /api/stats/monthly", s.requireAuth(s.handleMonthlySpending))
	s.mux.HandleFunc("GET /api/export/receipts.xlsx", s.requireAuth(s.handleExport))

	// Stored images are public, like a public bucket
	s.mux.HandleFunc("GET /files/{name}", s.handleFile)
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Info("Starting server", "address", ln.Addr().String())
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, waiting for active requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.http.Handler.ServeHTTP(w, r)
}
