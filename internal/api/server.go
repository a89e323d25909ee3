package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/suspectuso/zeruva-rewards/internal/rewards"
)

// WalletHeader carries the wallet id injected by the authenticating proxy
const WalletHeader = "X-Wallet"

const maxBodyBytes = 1 << 20

type ctxKey struct{}

// Options configures a Server
type Options struct {
	AdminToken string
	// Treasury is the payout source address shown to clients
	Treasury string
}

// Server exposes the rewards service over HTTP
type Server struct {
	svc  *rewards.Service
	opts Options
	log  *slog.Logger

	router *mux.Router
	server *http.Server
}

// NewServer creates a new API server
func NewServer(svc *rewards.Service, opts Options, log *slog.Logger) *Server {
	s := &Server{
		svc:  svc,
		opts: opts,
		log:  log,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler with all routes
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireWallet)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/rewards", s.handleRewards).Methods(http.MethodGet)
	api.HandleFunc("/rewards/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/ship", s.handleShip).Methods(http.MethodGet)
	api.HandleFunc("/aliens", s.handleAliens).Methods(http.MethodGet)
	api.HandleFunc("/assign-slot", s.handleAssign).Methods(http.MethodPost)
	api.HandleFunc("/unassign-slot", s.handleUnassign).Methods(http.MethodPost)
	api.HandleFunc("/upgrade-ship", s.handleUpgrade).Methods(http.MethodPost)
	api.HandleFunc("/expedition", s.handleExpedition).Methods(http.MethodGet)
	api.HandleFunc("/expedition/start", s.handleStartExpedition).Methods(http.MethodPost)
	api.HandleFunc("/claim-sol-intent", s.handleCreateIntent).Methods(http.MethodPost)
	api.HandleFunc("/claim-sol-intent/{id}", s.handleGetIntent).Methods(http.MethodGet)
	api.HandleFunc("/confirm-claim-sol", s.handleConfirm).Methods(http.MethodPost)
	api.HandleFunc("/claims", s.handleListIntents).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/aliens", s.handleGrantAlien).Methods(http.MethodPost)
	admin.HandleFunc("/expedition/end", s.handleEndExpedition).Methods(http.MethodPost)
	admin.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is canceled
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		// confirm waits for the payment rail
		WriteTimeout: 2 * time.Minute,
	}

	s.log.Info("starting api server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// --- Middleware ---

func (s *Server) requireWallet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := strings.TrimSpace(r.Header.Get(WalletHeader))
		if wallet == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing wallet"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, wallet)))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.opts.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.AdminToken)) != 1 {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

		next.ServeHTTP(rec, r)

		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func walletFrom(r *http.Request) string {
	wallet, _ := r.Context().Value(ctxKey{}).(string)
	return wallet
}
