package api

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
)

// CreatePortfolioRequest is the payload for creating a portfolio.
type CreatePortfolioRequest struct {
	Name        string            `json:"name"`
	InitialCash decimal.Decimal   `json:"initialCash"`
	Config      models.RiskConfig `json:"config"`
}

// handleCreatePortfolio creates a new portfolio ledger.
func (s *Server) handleCreatePortfolio(w http.ResponseWriter, r *http.Request) {
	var req CreatePortfolioRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}

	portfolio, err := s.ledger.CreatePortfolio(r.Context(), req.Name, req.InitialCash, req.Config)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, portfolio)
}

// handleListPortfolios lists all portfolios, oldest first.
func (s *Server) handleListPortfolios(w http.ResponseWriter, r *http.Request) {
	portfolios := s.ledger.ListPortfolios()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"portfolios": portfolios,
		"count":      len(portfolios),
	})
}

// handleGetPortfolio returns a single portfolio by id.
func (s *Server) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	portfolio, err := s.ledger.GetPortfolio(id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, portfolio)
}

// handleArchivePortfolio marks a portfolio read-only.
func (s *Server) handleArchivePortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.ledger.ArchivePortfolio(r.Context(), id); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "archived",
	})
}

// handleDeletePortfolio removes a portfolio and its snapshot history.
func (s *Server) handleDeletePortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := s.ledger.DeletePortfolio(r.Context(), id); err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": "deleted",
	})
}

// handleExportPortfolio returns a portable export of a portfolio with its
// snapshot history.
func (s *Server) handleExportPortfolio(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	export, err := s.ledger.ExportPortfolio(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, export)
}

// handleImportPortfolio registers a previously exported portfolio. The raw
// body is handed to the ledger so decimal fields keep full precision.
func (s *Server) handleImportPortfolio(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "failed to read request body", nil)
		return
	}

	portfolio, err := s.ledger.ImportPortfolioJSON(r.Context(), data)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, portfolio)
}

// handleBackup exports every portfolio in one payload.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	backup, err := s.ledger.Backup(r.Context())
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, backup)
}

// handleRestore loads a backup payload. Individual failures are skipped; the
// response reports how many portfolios were restored.
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "failed to read request body", nil)
		return
	}

	restored, err := s.ledger.RestoreJSON(r.Context(), data)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"restored": restored})
}
