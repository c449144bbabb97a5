package manager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// exportVersion tags the serialized ledger layout.
const exportVersion = "1"

// PortfolioExport is the self-contained serialized form of one portfolio:
// config, positions, trades and the full snapshot history. All decimal fields
// marshal as strings, so the document round-trips losslessly.
type PortfolioExport struct {
	Version    string             `json:"version"`
	ExportedAt string             `json:"exportedAt"`
	Portfolio  *models.Portfolio  `json:"portfolio"`
	Snapshots  []*models.Snapshot `json:"snapshots"`
}

// LedgerBackup is the serialized form of every portfolio in the ledger.
type LedgerBackup struct {
	Version    string             `json:"version"`
	ExportedAt string             `json:"exportedAt"`
	Portfolios []*PortfolioExport `json:"portfolios"`
}

// ExportPortfolio serializes one portfolio and its snapshot history.
func (m *Manager) ExportPortfolio(ctx context.Context, portfolioID string) (*PortfolioExport, error) {
	portfolio, err := m.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}
	snapshots, err := m.tracker.GetSnapshots(ctx, portfolioID, storage.ListOptions{})
	if err != nil {
		return nil, err
	}
	return &PortfolioExport{
		Version:    exportVersion,
		ExportedAt: m.clk.Now().Format(time.RFC3339),
		Portfolio:  portfolio,
		Snapshots:  snapshots,
	}, nil
}

// ImportPortfolio loads a previously exported portfolio, including its
// snapshot history. The portfolio id must not already exist.
func (m *Manager) ImportPortfolio(ctx context.Context, export *PortfolioExport) (*models.Portfolio, error) {
	if export == nil || export.Portfolio == nil {
		return nil, errors.NewValidationError("export", "portfolio payload is required")
	}
	portfolio := export.Portfolio
	if portfolio.ID == "" {
		return nil, errors.NewValidationError("export", "portfolio id is required")
	}
	if portfolio.Config.Chain == "" {
		return nil, errors.NewValidationError("export", "portfolio chain is required")
	}
	if portfolio.CashBalance.IsNegative() {
		return nil, errors.NewValidationError("export", "cash balance must not be negative")
	}

	imported := portfolio.Clone()
	if imported.Positions == nil {
		imported.Positions = make(map[string]*models.Position)
	}
	if imported.Status == "" {
		imported.Status = types.StatusActive
	}

	m.mu.Lock()
	if _, exists := m.portfolios[imported.ID]; exists {
		m.mu.Unlock()
		return nil, errors.NewValidationError("export", "portfolio id already exists: "+imported.ID)
	}
	m.portfolios[imported.ID] = imported
	if m.currentID == "" {
		m.currentID = imported.ID
	}
	m.mu.Unlock()

	if m.tracker != nil && len(export.Snapshots) > 0 {
		m.tracker.ImportSnapshots(ctx, imported.ID, export.Snapshots)
	}

	m.log.WithFields(map[string]interface{}{
		"portfolioId": imported.ID,
		"snapshots":   len(export.Snapshots),
	}).Info("portfolio imported")

	return imported.Clone(), nil
}

// ImportPortfolioJSON decodes and imports a serialized portfolio document.
func (m *Manager) ImportPortfolioJSON(ctx context.Context, data []byte) (*models.Portfolio, error) {
	var export PortfolioExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, errors.NewDeserializationError("portfolio export", err)
	}
	return m.ImportPortfolio(ctx, &export)
}

// Backup serializes every portfolio in the ledger.
func (m *Manager) Backup(ctx context.Context) (*LedgerBackup, error) {
	backup := &LedgerBackup{
		Version:    exportVersion,
		ExportedAt: m.clk.Now().Format(time.RFC3339),
	}
	for _, portfolio := range m.ListPortfolios() {
		export, err := m.ExportPortfolio(ctx, portfolio.ID)
		if err != nil {
			return nil, err
		}
		backup.Portfolios = append(backup.Portfolios, export)
	}
	return backup, nil
}

// Restore imports a batch of portfolios independently: a failure on one
// portfolio is logged and skipped, and the count of successful imports is
// returned.
func (m *Manager) Restore(ctx context.Context, backup *LedgerBackup) (int, error) {
	if backup == nil {
		return 0, errors.NewValidationError("backup", "is required")
	}
	restored := 0
	for _, export := range backup.Portfolios {
		if _, err := m.ImportPortfolio(ctx, export); err != nil {
			id := ""
			if export != nil && export.Portfolio != nil {
				id = export.Portfolio.ID
			}
			m.log.WithError(err).WithField("portfolioId", id).Warn("skipping portfolio during restore")
			continue
		}
		restored++
	}
	return restored, nil
}

// RestoreJSON decodes and restores a serialized ledger backup.
func (m *Manager) RestoreJSON(ctx context.Context, data []byte) (int, error) {
	var backup LedgerBackup
	if err := json.Unmarshal(data, &backup); err != nil {
		return 0, errors.NewDeserializationError("ledger backup", err)
	}
	return m.Restore(ctx, &backup)
}
