package linkage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/batchplant/platform/pkg/reconcile"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "links.db")), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	repo := NewRepository(db)
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func linked(batchID, orderID string, state reconcile.LinkState, confidence int) reconcile.LinkDecision {
	return reconcile.LinkDecision{
		BatchID:        batchID,
		LinkedOrderID:  &orderID,
		Confidence:     confidence,
		State:          state,
		Breakdown:      reconcile.ScoreBreakdown{Time: 25, Client: 35, Volume: confidence - 75, Formula: 15},
		CandidateCount: 2,
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	decision := linked("B-1", "O-1", reconcile.StateAutoLinked, 100)

	changed, err := repo.Save(ctx, FromDecision(decision), false)
	require.NoError(t, err)
	require.True(t, changed)
	first, err := repo.Get(ctx, "B-1")
	require.NoError(t, err)

	changed, err = repo.Save(ctx, FromDecision(decision), false)
	require.NoError(t, err)
	require.False(t, changed)
	second, err := repo.Get(ctx, "B-1")
	require.NoError(t, err)

	require.True(t, second.ToDecision().Equal(decision))
	require.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	require.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestSaveOverwritesOnRerun(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Save(ctx, FromDecision(reconcile.LinkDecision{BatchID: "B-1", State: reconcile.StateNoMatch}), false)
	require.NoError(t, err)

	upgraded := linked("B-1", "O-7", reconcile.StatePendingReview, 80)
	changed, err := repo.Save(ctx, FromDecision(upgraded), false)
	require.NoError(t, err)
	require.True(t, changed)

	stored, err := repo.Get(ctx, "B-1")
	require.NoError(t, err)
	require.True(t, stored.ToDecision().Equal(upgraded), "stored %+v", stored.ToDecision())

	// and back to no link at all
	cleared := reconcile.LinkDecision{BatchID: "B-1", State: reconcile.StateNoMatch, CandidateCount: 0}
	changed, err = repo.Save(ctx, FromDecision(cleared), false)
	require.NoError(t, err)
	require.True(t, changed)
	stored, err = repo.Get(ctx, "B-1")
	require.NoError(t, err)
	require.Nil(t, stored.OrderID)
	require.Equal(t, string(reconcile.StateNoMatch), stored.State)
}

func TestSaveUniqueOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Save(ctx, FromDecision(linked("B-1", "O-1", reconcile.StateAutoLinked, 95)), true)
	require.NoError(t, err)

	_, err = repo.Save(ctx, FromDecision(linked("B-2", "O-1", reconcile.StateAutoLinked, 100)), true)
	require.ErrorIs(t, err, ErrOrderAlreadyLinked)
	_, err = repo.Get(ctx, "B-2")
	require.ErrorIs(t, err, ErrNotFound)

	// review links do not claim the order
	_, err = repo.Save(ctx, FromDecision(linked("B-3", "O-1", reconcile.StatePendingReview, 80)), true)
	require.NoError(t, err)

	// re-saving the holder itself is fine
	_, err = repo.Save(ctx, FromDecision(linked("B-1", "O-1", reconcile.StateAutoLinked, 95)), true)
	require.NoError(t, err)

	// without enforcement two batches may share the order
	_, err = repo.Save(ctx, FromDecision(linked("B-4", "O-1", reconcile.StateAutoLinked, 100)), false)
	require.NoError(t, err)

	holders, err := repo.FindByOrder(ctx, "O-1")
	require.NoError(t, err)
	require.Len(t, holders, 3)
	require.Equal(t, "B-1", holders[0].BatchID)
}

func TestListByState(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for _, d := range []reconcile.LinkDecision{
		linked("B-1", "O-1", reconcile.StatePendingReview, 80),
		linked("B-2", "O-2", reconcile.StateAutoLinked, 95),
		linked("B-3", "O-3", reconcile.StatePendingReview, 75),
	} {
		_, err := repo.Save(ctx, FromDecision(d), false)
		require.NoError(t, err)
	}

	review, err := repo.ListByState(ctx, reconcile.StatePendingReview, 10)
	require.NoError(t, err)
	require.Len(t, review, 2)
	for _, l := range review {
		require.Equal(t, string(reconcile.StatePendingReview), l.State)
	}

	limited, err := repo.ListByState(ctx, reconcile.StatePendingReview, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	none, err := repo.ListByState(ctx, reconcile.StateNoMatch, 10)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestUniqueOrderIndexRejectsSecondAutoLink(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.SyncUniqueOrderIndex(true))
	require.NoError(t, repo.SyncUniqueOrderIndex(true))

	// uniqueOrder=false skips the count, as a writer racing the first one
	// would see no holder yet; the index still refuses the second claim.
	_, err := repo.Save(ctx, FromDecision(linked("B-1", "O-1", reconcile.StateAutoLinked, 95)), false)
	require.NoError(t, err)
	_, err = repo.Save(ctx, FromDecision(linked("B-2", "O-1", reconcile.StateAutoLinked, 100)), false)
	require.ErrorIs(t, err, ErrOrderAlreadyLinked)
	_, err = repo.Get(ctx, "B-2")
	require.ErrorIs(t, err, ErrNotFound)

	// an existing review link cannot be promoted onto a claimed order either
	_, err = repo.Save(ctx, FromDecision(linked("B-3", "O-1", reconcile.StatePendingReview, 80)), false)
	require.NoError(t, err)
	_, err = repo.Save(ctx, FromDecision(linked("B-3", "O-1", reconcile.StateAutoLinked, 92)), false)
	require.ErrorIs(t, err, ErrOrderAlreadyLinked)
	stored, err := repo.Get(ctx, "B-3")
	require.NoError(t, err)
	require.Equal(t, string(reconcile.StatePendingReview), stored.State)

	// other orders are unaffected
	_, err = repo.Save(ctx, FromDecision(linked("B-4", "O-2", reconcile.StateAutoLinked, 95)), false)
	require.NoError(t, err)
}

func TestUniqueOrderIndexDropped(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	require.NoError(t, repo.SyncUniqueOrderIndex(true))
	require.NoError(t, repo.SyncUniqueOrderIndex(false))

	_, err := repo.Save(ctx, FromDecision(linked("B-1", "O-1", reconcile.StateAutoLinked, 95)), false)
	require.NoError(t, err)
	_, err = repo.Save(ctx, FromDecision(linked("B-2", "O-1", reconcile.StateAutoLinked, 100)), false)
	require.NoError(t, err)
}
