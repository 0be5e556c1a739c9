// Package audit keeps an append-only trail of administrative mutations.
//
// Every successful registry mutation (add, reweight, disable, enable) is
// recorded as a hash-chained entry. Entries are canonicalized with JCS
// (RFC 8785) before hashing so the chain verifies identically across
// processes and JSON encoders.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/quorumlabs/votegrid/pkg/power"
)

// EntryType categorizes an audit entry.
type EntryType string

const (
	EntrySourceAdded    EntryType = "SOURCE_ADDED"
	EntryWeightChanged  EntryType = "WEIGHT_CHANGED"
	EntrySourceDisabled EntryType = "SOURCE_DISABLED"
	EntrySourceEnabled  EntryType = "SOURCE_ENABLED"
)

// Entry is an immutable, hash-chained audit record.
type Entry struct {
	Sequence    uint64         `json:"sequence"`
	ID          uuid.UUID      `json:"id"`
	EntryType   EntryType      `json:"entry_type"`
	Actor       string         `json:"actor"`
	Point       string         `json:"point"`
	ContentHash string         `json:"content_hash"`
	PrevHash    string         `json:"prev_hash"`
	Timestamp   time.Time      `json:"timestamp"`
	Data        map[string]any `json:"data"`
}

// Ledger is an append-only, hash-chained audit log.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash string
	clock    func() time.Time
	newID    func() uuid.UUID
}

// NewLedger creates an empty audit ledger.
func NewLedger() *Ledger {
	return &Ledger{
		headHash: "genesis",
		clock:    time.Now,
		newID:    uuid.New,
	}
}

// WithClock overrides the clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// hashInput is the canonicalized content that the chain hash covers.
type hashInput struct {
	Seq      uint64         `json:"seq"`
	Type     EntryType      `json:"type"`
	Actor    string         `json:"actor"`
	Point    string         `json:"point"`
	Data     map[string]any `json:"data"`
	PrevHash string         `json:"prev"`
}

func contentHash(in hashInput) (string, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	h := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(h[:]), nil
}

// Append records an administrative mutation. Returns the sequence number.
func (l *Ledger) Append(entryType EntryType, actor string, at power.Point, data map[string]any) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seq := uint64(len(l.entries)) + 1
	hash, err := contentHash(hashInput{
		Seq: seq, Type: entryType, Actor: actor, Point: at.String(), Data: data, PrevHash: l.headHash,
	})
	if err != nil {
		return 0, err
	}

	l.entries = append(l.entries, Entry{
		Sequence:    seq,
		ID:          l.newID(),
		EntryType:   entryType,
		Actor:       actor,
		Point:       at.String(),
		ContentHash: hash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock(),
		Data:        data,
	})
	l.headHash = hash
	return seq, nil
}

// Get retrieves an entry by sequence number.
func (l *Ledger) Get(seq uint64) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq == 0 || seq > uint64(len(l.entries)) {
		return nil, fmt.Errorf("entry %d not found", seq)
	}
	entry := l.entries[seq-1]
	return &entry, nil
}

// Entries returns a copy of all entries in order.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Head returns the current head hash.
func (l *Ledger) Head() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Length returns the number of entries.
func (l *Ledger) Length() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Verify checks the integrity of the whole chain.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return VerifyChain(l.entries)
}

// VerifyChain re-hashes a sequence of entries and walks the prev-hash links.
// Works on entries obtained from any encoding of the ledger, not just the
// in-process one; JCS canonicalization makes the hashes encoder-independent.
func VerifyChain(entries []Entry) (bool, string) {
	prevHash := "genesis"
	for i, entry := range entries {
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := contentHash(hashInput{
			Seq: entry.Sequence, Type: entry.EntryType, Actor: entry.Actor,
			Point: entry.Point, Data: entry.Data, PrevHash: entry.PrevHash,
		})
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}
