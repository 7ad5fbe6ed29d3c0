// Package http exposes the JSON API: expense recording, balances,
// settlement plans and the operational endpoints.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"splitledger/internal/log"
	"splitledger/internal/metrics"
	"splitledger/internal/middleware/ratelimit"
	"splitledger/internal/middleware/trace"
	"splitledger/internal/services"
	"splitledger/internal/storage"
)

// Config is the HTTP-facing slice of application configuration.
type Config struct {
	Addr            string
	CORSOrigins     []string
	RateLimitPerMin int
}

// Server wraps http.Server with the middleware goroutines it owns.
type Server struct {
	http.Server

	limiter      *ratelimit.Limiter
	tracer       *trace.Middleware
	logger       *log.Logger
	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a server ready for
// ListenAndServe.
func NewServer(cfg Config, expenses *services.ExpenseService, balances *services.BalanceService, store storage.Store, logger *log.Logger) *Server {
	h := &handlers{
		expenses: expenses,
		balances: balances,
		store:    store,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", handleHealth).Methods("GET")
	router.HandleFunc("/readyz", h.handleReady).Methods("GET")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/users/{userID}/balance", h.handleUserBalance).Methods("GET")
	api.HandleFunc("/groups/{groupID}/expenses", h.handleCreateExpense).Methods("POST")
	api.HandleFunc("/groups/{groupID}/expenses", h.handleListExpenses).Methods("GET")
	api.HandleFunc("/groups/{groupID}/balances", h.handleGroupBalances).Methods("GET")
	api.HandleFunc("/groups/{groupID}/settlements", h.handleSettlements).Methods("GET")
	api.HandleFunc("/expenses/{expenseID}", h.handleDeleteExpense).Methods("DELETE")

	limiter := ratelimit.NewLimiter(cfg.RateLimitPerMin)
	tracer := trace.NewMiddleware(nil)

	corsOptions := cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
	}
	if len(corsOptions.AllowedOrigins) == 0 {
		corsOptions.AllowedOrigins = []string{"*"}
	}

	// Logger middleware sits outside the tracer so the tracer can log
	// through the request-scoped logger.
	var handler http.Handler = router
	handler = tracer.Middleware(handler)
	handler = log.Middleware(logger)(handler)
	handler = limiter.Middleware(handler)
	handler = cors.New(corsOptions).Handler(handler)

	return &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		limiter: limiter,
		tracer:  tracer,
		logger:  logger.WithComponent(log.ComponentHTTP),
	}
}

// Shutdown stops the listener and the middleware goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		stats := s.tracer.GetMetrics()
		s.logger.InfoContext(ctx, "HTTP server stopping",
			log.FieldOperation, log.OpShutdown,
			"total_requests", stats.TotalRequests,
			"avg_response_us", stats.AverageResponseTime,
			"active_clients", s.limiter.ActiveClients())
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
