package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/manager"
)

// handleExecuteTrade books a buy or sell against the ledger. Rejected trades
// come back with the trade record attached so callers can see the fail reason.
func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req manager.TradeRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}

	trade, err := s.ledger.ExecuteTrade(r.Context(), id, req)
	if err != nil {
		if errors.IsTradeRejection(err) && trade != nil {
			ledgerErr := errors.Categorize(err)
			respondJSON(w, ledgerErr.StatusCode, map[string]interface{}{
				"trade": trade,
				"error": ledgerErr.ToServiceError(),
			})
			return
		}
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, trade)
}

// handleListTrades returns the trade log of a portfolio, oldest first.
func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	portfolio, err := s.ledger.GetPortfolio(id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"trades": portfolio.Trades,
		"count":  len(portfolio.Trades),
	})
}

// SetInitialPositionsRequest seeds holdings that predate the ledger.
type SetInitialPositionsRequest struct {
	Positions []manager.InitialPosition `json:"positions"`
}

func (s *Server) handleSetInitialPositions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req SetInitialPositionsRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "invalid request body: "+err.Error(), nil)
		return
	}

	if err := s.ledger.SetInitialPositions(r.Context(), id, req.Positions); err != nil {
		respondLedgerError(w, err)
		return
	}

	portfolio, err := s.ledger.GetPortfolio(id)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, portfolio)
}
