// Package api provides the HTTP API server for the portfolio ledger.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/calc"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/manager"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
)

// LedgerService is the manager surface the API depends on, defined as an
// interface for testing.
type LedgerService interface {
	CreatePortfolio(ctx context.Context, name string, initialCash decimal.Decimal, cfg models.RiskConfig) (*models.Portfolio, error)
	GetPortfolio(portfolioID string) (*models.Portfolio, error)
	ListPortfolios() []*models.Portfolio
	ArchivePortfolio(ctx context.Context, portfolioID string) error
	DeletePortfolio(ctx context.Context, portfolioID string) error
	ExecuteTrade(ctx context.Context, portfolioID string, req manager.TradeRequest) (*models.Trade, error)
	SetInitialPositions(ctx context.Context, portfolioID string, positions []manager.InitialPosition) error
	GetSnapshots(ctx context.Context, portfolioID string, opts storage.ListOptions) ([]*models.Snapshot, error)
	CreateSnapshot(ctx context.Context, portfolioID string, meta models.SnapshotMetadata) (*models.Snapshot, error)
	GetPerformance(ctx context.Context, portfolioID string, timeframe time.Duration) (calc.PerformanceMetrics, error)
	GetRisk(ctx context.Context, portfolioID string) (calc.RiskMetrics, error)
	GetAssetAllocation(ctx context.Context, portfolioID string) ([]calc.AllocationRow, error)
	AnalyzeRebalanceNeeds(ctx context.Context, portfolioID string) ([]manager.RebalanceRecommendation, error)
	ExecuteRebalance(ctx context.Context, portfolioID string, recs []manager.RebalanceRecommendation) ([]*models.Trade, error)
	CheckRiskLimits(ctx context.Context, portfolioID string) ([]manager.RiskViolation, error)
	ExportPortfolio(ctx context.Context, portfolioID string) (*manager.PortfolioExport, error)
	ImportPortfolioJSON(ctx context.Context, data []byte) (*models.Portfolio, error)
	Backup(ctx context.Context) (*manager.LedgerBackup, error)
	RestoreJSON(ctx context.Context, data []byte) (int, error)
	CleanupSnapshots(ctx context.Context, portfolioID string, retentionDays int) (int, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	ledger     LedgerService
	log        *logging.Logger
	config     *config.ServerConfig
}

// NewServer creates a new API server instance.
func NewServer(cfg *config.ServerConfig, ledger LedgerService, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Global()
	}
	s := &Server{
		router: mux.NewRouter(),
		ledger: ledger,
		log:    log.WithField("component", "api"),
		config: cfg,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RateLimitRPS, s.config.RateLimitBurst)

	// Middleware order matters: logging wraps everything, recovery catches
	// panics before the limiter rejects.
	s.router.Use(LoggingMiddleware(s.log))
	s.router.Use(RecoveryMiddleware(s.log))
	s.router.Use(RateLimitMiddleware(rateLimiter))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Portfolio lifecycle
	api.HandleFunc("/portfolios", s.handleCreatePortfolio).Methods("POST")
	api.HandleFunc("/portfolios", s.handleListPortfolios).Methods("GET")
	api.HandleFunc("/portfolios/import", s.handleImportPortfolio).Methods("POST")
	api.HandleFunc("/portfolios/{id}", s.handleGetPortfolio).Methods("GET")
	api.HandleFunc("/portfolios/{id}", s.handleDeletePortfolio).Methods("DELETE")
	api.HandleFunc("/portfolios/{id}/archive", s.handleArchivePortfolio).Methods("POST")
	api.HandleFunc("/portfolios/{id}/export", s.handleExportPortfolio).Methods("GET")

	// Trading
	api.HandleFunc("/portfolios/{id}/trades", s.handleExecuteTrade).Methods("POST")
	api.HandleFunc("/portfolios/{id}/trades", s.handleListTrades).Methods("GET")
	api.HandleFunc("/portfolios/{id}/positions", s.handleSetInitialPositions).Methods("PUT")

	// History and analytics
	api.HandleFunc("/portfolios/{id}/snapshots", s.handleGetSnapshots).Methods("GET")
	api.HandleFunc("/portfolios/{id}/snapshots", s.handleCreateSnapshot).Methods("POST")
	api.HandleFunc("/portfolios/{id}/performance", s.handleGetPerformance).Methods("GET")
	api.HandleFunc("/portfolios/{id}/risk", s.handleGetRisk).Methods("GET")
	api.HandleFunc("/portfolios/{id}/risk/limits", s.handleCheckRiskLimits).Methods("GET")
	api.HandleFunc("/portfolios/{id}/allocation", s.handleGetAllocation).Methods("GET")
	api.HandleFunc("/portfolios/{id}/rebalance/analyze", s.handleAnalyzeRebalance).Methods("GET")
	api.HandleFunc("/portfolios/{id}/rebalance", s.handleExecuteRebalance).Methods("POST")
	api.HandleFunc("/portfolios/{id}/snapshots/cleanup", s.handleCleanupSnapshots).Methods("POST")

	// Whole-ledger backup and restore
	api.HandleFunc("/backup", s.handleBackup).Methods("GET")
	api.HandleFunc("/restore", s.handleRestore).Methods("POST")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "portfolio-ledger",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}
