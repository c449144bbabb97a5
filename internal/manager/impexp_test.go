package manager

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/errors"
	"github.com/portfolio-ledger/internal/storage"
)

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")
	env.buy(t, pf.ID, tokenX, "10", "5")
	env.sell(t, pf.ID, tokenX, "4", "8")

	export, err := env.manager.ExportPortfolio(ctx, pf.ID)
	require.NoError(t, err)
	require.NotNil(t, export.Portfolio)
	assert.Len(t, export.Snapshots, 3)

	data, err := json.Marshal(export)
	require.NoError(t, err)
	// decimals serialize as strings
	assert.Contains(t, string(data), `"cashBalance":"982"`)

	// import into a fresh ledger
	fresh := newTestEnv(t)
	imported, err := fresh.manager.ImportPortfolioJSON(ctx, data)
	require.NoError(t, err)

	assert.Equal(t, pf.ID, imported.ID)
	assert.True(t, imported.CashBalance.Equal(dec("982")))
	pos := imported.Positions[tokenX]
	require.NotNil(t, pos)
	assert.True(t, pos.Amount.Equal(dec("6")))
	assert.True(t, pos.AvgPrice.Equal(dec("5")))
	assert.Len(t, imported.Trades, 2)

	snaps, err := fresh.manager.GetSnapshots(ctx, pf.ID, storage.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, snaps, 3)
}

func TestImportDuplicateIDRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pf := env.createPortfolio(t, "1000")

	export, err := env.manager.ExportPortfolio(ctx, pf.ID)
	require.NoError(t, err)

	_, err = env.manager.ImportPortfolio(ctx, export)
	assert.Error(t, err)
}

func TestImportMalformedPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.manager.ImportPortfolioJSON(ctx, []byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeDeserialization, errors.Categorize(err).Code)
}

func TestBackupAndRestore(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	pf1 := env.createPortfolio(t, "1000")
	pf2 := env.createPortfolio(t, "500")
	env.buy(t, pf1.ID, tokenX, "10", "5")

	backup, err := env.manager.Backup(ctx)
	require.NoError(t, err)
	require.Len(t, backup.Portfolios, 2)

	fresh := newTestEnv(t)
	restored, err := fresh.manager.Restore(ctx, backup)
	require.NoError(t, err)
	assert.Equal(t, 2, restored)

	got, err := fresh.manager.GetPortfolio(pf2.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(dec("500")))
}

// A bad portfolio in a batch must not stop the rest from restoring.
func TestRestoreContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.createPortfolio(t, "1000")
	env.createPortfolio(t, "500")

	backup, err := env.manager.Backup(ctx)
	require.NoError(t, err)
	require.Len(t, backup.Portfolios, 2)

	// corrupt the first entry
	backup.Portfolios[0].Portfolio.ID = ""
	backup.Portfolios = append(backup.Portfolios, &PortfolioExport{})

	fresh := newTestEnv(t)
	restored, err := fresh.manager.Restore(ctx, backup)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.Len(t, fresh.manager.ListPortfolios(), 1)
}
