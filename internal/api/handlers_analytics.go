package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/manager"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
)

// handleGetSnapshots returns the snapshot history, ascending by timestamp.
// Query params: from/to as RFC3339 timestamps, limit as an integer.
func (s *Server) handleGetSnapshots(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	opts, err := parseListOptions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	snapshots, err := s.ledger.GetSnapshots(r.Context(), id, opts)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

func parseListOptions(r *http.Request) (storage.ListOptions, error) {
	var opts storage.ListOptions
	query := r.URL.Query()

	if raw := query.Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, &paramError{param: "from", reason: "must be RFC3339"}
		}
		opts.From = t
	}
	if raw := query.Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return opts, &paramError{param: "to", reason: "must be RFC3339"}
		}
		opts.To = t
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return opts, &paramError{param: "limit", reason: "must be a non-negative integer"}
		}
		opts.Limit = limit
	}
	return opts, nil
}

type paramError struct {
	param  string
	reason string
}

func (e *paramError) Error() string {
	return "invalid query parameter " + e.param + ": " + e.reason
}

// handleCreateSnapshot captures a snapshot on demand.
func (s *Server) handleCreateSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var meta models.SnapshotMetadata
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &meta); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
			return
		}
	}

	snapshot, err := s.ledger.CreateSnapshot(r.Context(), id, meta)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, snapshot)
}

// handleGetPerformance returns performance metrics over an optional timeframe.
// The timeframe query param is a Go duration string, e.g. "168h" for a week;
// omitted or zero means the full history.
func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var timeframe time.Duration
	if raw := r.URL.Query().Get("timeframe"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid query parameter timeframe: must be a duration like 24h", nil)
			return
		}
		timeframe = parsed
	}

	metrics, err := s.ledger.GetPerformance(r.Context(), id, timeframe)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// handleGetRisk returns risk metrics for a portfolio.
func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	metrics, err := s.ledger.GetRisk(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, metrics)
}

// handleCheckRiskLimits returns current violations of configured risk limits.
func (s *Server) handleCheckRiskLimits(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	violations, err := s.ledger.CheckRiskLimits(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"violations": violations,
		"count":      len(violations),
	})
}

// handleGetAllocation returns the current asset allocation table.
func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	allocation, err := s.ledger.GetAssetAllocation(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"allocation": allocation,
	})
}

// handleAnalyzeRebalance returns recommendations without executing anything.
func (s *Server) handleAnalyzeRebalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	recs, err := s.ledger.AnalyzeRebalanceNeeds(r.Context(), id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	})
}

// ExecuteRebalanceRequest optionally carries the recommendations to execute.
// When empty, the ledger analyzes first and executes what it finds.
type ExecuteRebalanceRequest struct {
	Recommendations []manager.RebalanceRecommendation `json:"recommendations"`
}

func (s *Server) handleExecuteRebalance(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req ExecuteRebalanceRequest
	if r.ContentLength > 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
			return
		}
	}

	recs := req.Recommendations
	if len(recs) == 0 {
		analyzed, err := s.ledger.AnalyzeRebalanceNeeds(r.Context(), id)
		if err != nil {
			respondLedgerError(w, err)
			return
		}
		recs = analyzed
	}

	trades, err := s.ledger.ExecuteRebalance(r.Context(), id, recs)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trades": trades,
		"count":  len(trades),
	})
}

// CleanupSnapshotsRequest sets the retention window for a cleanup run.
type CleanupSnapshotsRequest struct {
	RetentionDays int `json:"retentionDays"`
}

func (s *Server) handleCleanupSnapshots(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req CleanupSnapshotsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}

	removed, err := s.ledger.CleanupSnapshots(r.Context(), id, req.RetentionDays)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}
