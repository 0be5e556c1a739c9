package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func TestLedgerAppendAndChain(t *testing.T) {
	l := NewLedger().WithClock(fixedClock)

	seq, err := l.Append(EntrySourceAdded, "admin", 10, map[string]any{
		"id": "token-a", "weight": uint64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = l.Append(EntryWeightChanged, "admin", 15, map[string]any{
		"id": "token-a", "weight": uint64(5), "previous": uint64(3),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	first, err := l.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "genesis", first.PrevHash)
	assert.Equal(t, EntrySourceAdded, first.EntryType)
	assert.Equal(t, "10", first.Point)
	assert.NotEqual(t, first.ID.String(), "00000000-0000-0000-0000-000000000000")

	second, err := l.Get(2)
	require.NoError(t, err)
	assert.Equal(t, first.ContentHash, second.PrevHash)
	assert.Equal(t, second.ContentHash, l.Head())
	assert.Equal(t, 2, l.Length())

	ok, msg := l.Verify()
	assert.True(t, ok, msg)
}

func TestLedgerGetOutOfRange(t *testing.T) {
	l := NewLedger()
	_, err := l.Get(0)
	assert.Error(t, err)
	_, err = l.Get(1)
	assert.Error(t, err)
}

func TestLedgerVerifyDetectsTampering(t *testing.T) {
	l := NewLedger().WithClock(fixedClock)
	_, err := l.Append(EntrySourceAdded, "admin", 10, map[string]any{"id": "token-a"})
	require.NoError(t, err)
	_, err = l.Append(EntrySourceDisabled, "admin", 20, map[string]any{"id": "token-a"})
	require.NoError(t, err)

	// Mutate the stored data behind the ledger's back.
	l.entries[0].Data["id"] = "token-b"

	ok, msg := l.Verify()
	assert.False(t, ok)
	assert.Contains(t, msg, "hash mismatch")
}

func TestLedgerHashIsEncoderIndependent(t *testing.T) {
	// The same logical content must hash identically regardless of map
	// iteration order; JCS canonicalization guarantees it.
	a := NewLedger().WithClock(fixedClock)
	b := NewLedger().WithClock(fixedClock)

	data1 := map[string]any{"id": "token-a", "weight": uint64(3), "kind": "checkpointed-token"}
	data2 := map[string]any{"kind": "checkpointed-token", "weight": uint64(3), "id": "token-a"}

	_, err := a.Append(EntrySourceAdded, "admin", 10, data1)
	require.NoError(t, err)
	_, err = b.Append(EntrySourceAdded, "admin", 10, data2)
	require.NoError(t, err)

	ea, err := a.Get(1)
	require.NoError(t, err)
	eb, err := b.Get(1)
	require.NoError(t, err)
	assert.Equal(t, ea.ContentHash, eb.ContentHash)
}
