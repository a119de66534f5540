package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendguard/hedgebot/internal/domain"
	"github.com/lendguard/hedgebot/internal/store/memory"
)

type memWriter struct {
	objects map[string][]byte
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.objects == nil {
		w.objects = make(map[string][]byte)
	}
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = buf
	return nil
}

func closedPosition(id string, closedAt time.Time) domain.HedgePosition {
	pnl := 10.0
	price := 1900.0
	return domain.HedgePosition{
		ID:            id,
		BorrowerID:    "b-" + id,
		Asset:         "ETH-USD",
		LoanAmount:    50000,
		Amount:        2083.33,
		OpenPrice:     2000,
		HedgeRatioBps: 5416,
		ScoreAtOpen:   550,
		Status:        domain.PositionStatusClosed,
		PnL:           &pnl,
		ClosePrice:    &price,
		OpenedAt:      closedAt.Add(-24 * time.Hour),
		ClosedAt:      &closedAt,
	}
}

func TestArchiveClosedPositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	positions := memory.NewPositionStore()
	audit := memory.NewAuditStore()
	writer := &memWriter{}
	arch := NewArchiver(writer, positions, audit)

	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, positions.Put(ctx, closedPosition("old", cutoff.Add(-48*time.Hour))))
	require.NoError(t, positions.Put(ctx, closedPosition("new", cutoff.Add(48*time.Hour))))

	count, err := arch.ArchiveClosedPositions(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	raw, ok := writer.objects["archive/positions/2026-08.jsonl"]
	require.True(t, ok, "archive object missing: %v", writer.objects)

	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	require.Len(t, lines, 1)
	var archived domain.HedgePosition
	require.NoError(t, json.Unmarshal(lines[0], &archived))
	assert.Equal(t, "old", archived.ID)

	// The archival itself leaves an audit trail.
	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.positions", entries[0].Event)
}

func TestArchiveClosedPositionsEmpty(t *testing.T) {
	t.Parallel()
	writer := &memWriter{}
	arch := NewArchiver(writer, memory.NewPositionStore(), memory.NewAuditStore())

	count, err := arch.ArchiveClosedPositions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.objects)
}

func TestArchiveAuditLogPrunesStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	audit := memory.NewAuditStore()
	require.NoError(t, audit.Log(ctx, "position_opened", map[string]any{"position_id": "p-1"}))
	require.NoError(t, audit.Log(ctx, "position_closed", map[string]any{"position_id": "p-1"}))

	writer := &memWriter{}
	arch := NewArchiver(writer, memory.NewPositionStore(), audit)

	cutoff := time.Now().Add(time.Minute)
	count, err := arch.ArchiveAuditLog(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	require.Len(t, writer.objects, 1)

	remaining, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, remaining)
}
