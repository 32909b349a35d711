package memory

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperCleansOrphanVectors(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "First revision."})
	require.NoError(t, err)

	// Leave the old vectors stranded in the index.
	fx.index.setFailDeletes(true)
	newContent := "Second revision."
	require.NoError(t, fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &newContent}))
	fx.index.setFailDeletes(false)

	orphans, err := fx.store.Orphans(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, orphans)

	sweeper := NewSweeper(fx.store, fx.index, zerolog.Nop())
	require.NoError(t, sweeper.Sweep(ctx))

	orphans, err = fx.store.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSweeperKeepsFailingOrphansQueued(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "First revision."})
	require.NoError(t, err)

	fx.index.setFailDeletes(true)
	newContent := "Second revision."
	require.NoError(t, fx.store.Update(ctx, "tenant-a", id, UpdateRequest{Content: &newContent}))

	sweeper := NewSweeper(fx.store, fx.index, zerolog.Nop())

	// The index is still down; the sweep reports failure and keeps the
	// entries for the next pass.
	err = sweeper.Sweep(ctx)
	require.Error(t, err)
	orphans, err := fx.store.Orphans(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, orphans)

	fx.index.setFailDeletes(false)
	require.NoError(t, sweeper.Sweep(ctx))
	orphans, err = fx.store.Orphans(ctx)
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

func TestSweeperRetriesPendingDeletes(t *testing.T) {
	fx := newTestStore(t)
	ctx := context.Background()

	id, err := fx.store.Add(ctx, AddRequest{TenantID: "tenant-a", Content: "Doomed document."})
	require.NoError(t, err)

	// Simulate a delete that removed vectors but lost the metadata
	// write: the document row is still present with a pending entry.
	fx.store.recordPendingDelete(ctx, "tenant-a", id)

	sweeper := NewSweeper(fx.store, fx.index, zerolog.Nop())
	require.NoError(t, sweeper.Sweep(ctx))

	_, err = fx.store.GetDocument(ctx, "tenant-a", id)
	assert.ErrorIs(t, err, ErrNotFound)

	pending, err := fx.store.PendingDeletes(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweeperScheduledRuns(t *testing.T) {
	fx := newTestStore(t)

	sweeper := NewSweeper(fx.store, fx.index, zerolog.Nop())
	require.NoError(t, sweeper.Start("@every 1h"))
	sweeper.Stop()

	// A bad schedule is rejected up front.
	assert.Error(t, NewSweeper(fx.store, fx.index, zerolog.Nop()).Start("not a schedule"))
}
