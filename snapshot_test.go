package match

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	book, _ := createTestBook(t)
	seedYesBook(t, book)
	place(t, book, "no-bid", "frank", No, Buy, 300_000, 20)
	place(t, book, "taker", "erin", Yes, Buy, 510_000, 30)

	snap, err := book.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, "mkt-rain", snap.MarketID)
	assert.Equal(t, testTick, snap.Tick)
	require.Len(t, snap.Yes.Asks, 2)
	assert.Equal(t, int64(70), snap.Yes.Asks[0].Remaining)

	restored, err := NewBookFromSnapshot(snap, 1024, NewDiscardPublishLog())
	require.NoError(t, err)
	go func() {
		_ = restored.Start()
	}()
	t.Cleanup(func() {
		_ = restored.Shutdown(context.Background())
	})

	// Depth is identical after restore
	want, err := book.Depth(10)
	require.NoError(t, err)
	got, err := restored.Depth(10)
	require.NoError(t, err)
	assert.Equal(t, want.Yes, got.Yes)
	assert.Equal(t, want.No, got.No)

	// Sequence counters continue where the source left off
	assert.Equal(t, snap.SeqID, restored.seqID.Load())
	assert.Equal(t, snap.TradeID, restored.tradeID.Load())
}

func TestSnapshotRestorePreservesPriority(t *testing.T) {
	book, _ := createTestBook(t)

	place(t, book, "first", "u1", Yes, Sell, 500_000, 10)
	place(t, book, "second", "u2", Yes, Sell, 500_000, 10)

	snap, err := book.Snapshot()
	require.NoError(t, err)

	restored, err := NewBookFromSnapshot(snap, 64, NewDiscardPublishLog())
	require.NoError(t, err)
	go func() {
		_ = restored.Start()
	}()
	t.Cleanup(func() {
		_ = restored.Shutdown(context.Background())
	})

	result := place(t, restored, "taker", "u3", Yes, Buy, 500_000, 10)
	require.Len(t, result.Fills, 1)
	assert.Equal(t, "first", result.Fills[0].MakerOrderID)
}

func TestSnapshotRestoreOverCapacity(t *testing.T) {
	book, _ := createTestBook(t)
	seedYesBook(t, book)

	snap, err := book.Snapshot()
	require.NoError(t, err)

	_, err = NewBookFromSnapshot(snap, 2, NewDiscardPublishLog())
	assert.Error(t, err)
}

func TestSnapshotCarriesMetadata(t *testing.T) {
	book, _ := createTestBook(t)
	place(t, book, "bid-1", "alice", Yes, Buy, 490_000, 100)
	place(t, book, "ask-1", "carol", Yes, Sell, 510_000, 100)

	snap, err := book.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, EngineVersion, snap.Metadata.EngineVersion)
	assert.Equal(t, SnapshotSchemaVersion, snap.Metadata.SchemaVersion)
	assert.NotZero(t, snap.Metadata.Timestamp)
	// Both placements were stamped before the snapshot command ran
	assert.Equal(t, uint64(2), snap.Metadata.LastCmdSeqID)

	restored, err := NewBookFromSnapshot(snap, 1024, NewDiscardPublishLog())
	require.NoError(t, err)
	assert.Equal(t, snap.Metadata.LastCmdSeqID, restored.LastCmdSeqID())

	go func() {
		_ = restored.Start()
	}()
	t.Cleanup(func() {
		_ = restored.Shutdown(context.Background())
	})

	// The command sequence continues past the restored point
	place(t, restored, "bid-2", "bob", Yes, Buy, 480_000, 10)
	next, err := restored.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snap.Metadata.LastCmdSeqID+1, next.Metadata.LastCmdSeqID)
}

func TestSnapshotRejectsNewerSchema(t *testing.T) {
	book, _ := createTestBook(t)
	seedYesBook(t, book)

	snap, err := book.Snapshot()
	require.NoError(t, err)

	snap.Metadata.SchemaVersion = SnapshotSchemaVersion + 1
	_, err = NewBookFromSnapshot(snap, 1024, NewDiscardPublishLog())
	assert.ErrorIs(t, err, ErrInvalidParam)
}
