package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/icmemd/internal/tenant"
)

func storeCtx(t *testing.T, firmID string) context.Context {
	t.Helper()
	return tenant.ContextWithFirm(context.Background(), &tenant.FirmInfo{FirmID: firmID, UserID: "partner-1"})
}

func TestMemoryOutcomeStore(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	seed := func(t *testing.T) (*MemoryOutcomeStore, context.Context) {
		t.Helper()
		store := NewMemoryOutcomeStore()
		ctx := storeCtx(t, "firm-a")
		outcomes := []HistoricalOutcome{
			{OpportunityID: "old-pass", CompanyName: "GridSense", Sector: "climate", Outcome: OutcomePassed, Rationale: "market too early", DecidedAt: base},
			{OpportunityID: "new-pass", CompanyName: "VoltWave", Sector: "climate", Outcome: OutcomePassed, Rationale: "weak unit economics", DecidedAt: base.AddDate(0, 2, 0)},
			{OpportunityID: "fintech-pass", CompanyName: "LedgerLoop", Sector: "fintech", Outcome: OutcomePassed, Rationale: "crowded market", DecidedAt: base.AddDate(0, 1, 0)},
			{OpportunityID: "no-rationale", CompanyName: "SilentCo", Sector: "climate", Outcome: OutcomePassed, DecidedAt: base.AddDate(0, 3, 0)},
			{OpportunityID: "invested", CompanyName: "WonDeal", Sector: "climate", Outcome: OutcomeOther, Rationale: "strong team", DecidedAt: base.AddDate(0, 3, 0)},
		}
		for _, o := range outcomes {
			require.NoError(t, store.Add(ctx, o))
		}
		return store, ctx
	}

	t.Run("only documented passes, newest first", func(t *testing.T) {
		store, ctx := seed(t)

		got, err := store.PassedOutcomes(ctx, "", 0)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "new-pass", got[0].OpportunityID)
		assert.Equal(t, "fintech-pass", got[1].OpportunityID)
		assert.Equal(t, "old-pass", got[2].OpportunityID)
	})

	t.Run("sector filter", func(t *testing.T) {
		store, ctx := seed(t)

		got, err := store.PassedOutcomes(ctx, "fintech", 0)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "LedgerLoop", got[0].CompanyName)
	})

	t.Run("limit truncates after ordering", func(t *testing.T) {
		store, ctx := seed(t)

		got, err := store.PassedOutcomes(ctx, "climate", 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "new-pass", got[0].OpportunityID)
	})

	t.Run("firms never see each other", func(t *testing.T) {
		store, _ := seed(t)

		got, err := store.PassedOutcomes(storeCtx(t, "firm-b"), "", 0)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("requires firm context", func(t *testing.T) {
		store := NewMemoryOutcomeStore()

		err := store.Add(context.Background(), HistoricalOutcome{})
		assert.ErrorIs(t, err, tenant.ErrMissingFirm)

		_, err = store.PassedOutcomes(context.Background(), "", 0)
		assert.ErrorIs(t, err, tenant.ErrMissingFirm)
	})
}
