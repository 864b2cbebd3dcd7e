package refresher

import (
	"path/filepath"
	"testing"

	"github.com/Flip-Liquid/valorem-oracles/internal/volatility"
)

func snapshotAt(ts uint32, fg0, fg1 uint64) volatility.FeeGrowthGlobals {
	fg := volatility.FeeGrowthGlobals{Timestamp: ts}
	fg.FeeGrowth0X128.SetUint64(fg0)
	fg.FeeGrowth1X128.SetUint64(fg1)
	return fg
}

func TestHistoryAppend(t *testing.T) {
	h := NewHistory("", 3)
	pool := "0x1111111111111111111111111111111111111111"

	for ts := uint32(100); ts <= 500; ts += 100 {
		h.Append(pool, snapshotAt(ts, uint64(ts), uint64(ts)))
	}

	// Ring keeps only the newest three.
	if _, ok := h.Select(pool, 600, 400, 0); !ok {
		t.Fatalf("expected a snapshot")
	}
	if _, ok := h.Select(pool, 600, 0, 200); !ok {
		t.Fatalf("newest snapshot should survive the ring")
	}
	got, ok := h.Select(pool, 600, 500, 0)
	if !ok || got.Timestamp != 300 {
		t.Fatalf("oldest surviving snapshot = %d, want 300", got.Timestamp)
	}

	// Stale appends are ignored.
	h.Append(pool, snapshotAt(500, 9, 9))
	h.Append(pool, snapshotAt(400, 9, 9))
	latest, ok := h.Select(pool, 501, 1, 0)
	if !ok || latest.Timestamp != 500 || latest.FeeGrowth0X128.Uint64() != 500 {
		t.Fatalf("stale append overwrote the ring: %+v", latest)
	}
}

func TestHistorySelect(t *testing.T) {
	h := NewHistory("", 10)
	pool := "0x3333333333333333333333333333333333333333"
	h.Append(pool, snapshotAt(1000, 1, 1))
	h.Append(pool, snapshotAt(2000, 2, 2))
	h.Append(pool, snapshotAt(3000, 3, 3))

	// Closest to the target age wins.
	got, ok := h.Select(pool, 4000, 1800, 0)
	if !ok || got.Timestamp != 2000 {
		t.Fatalf("selected %d, want 2000", got.Timestamp)
	}

	// Snapshots older than maxAge are skipped.
	got, ok = h.Select(pool, 4000, 3600, 2500)
	if !ok || got.Timestamp != 2000 {
		t.Fatalf("selected %d, want 2000 under max age", got.Timestamp)
	}

	// Snapshots at or after now never qualify.
	if _, ok := h.Select(pool, 1000, 100, 0); ok {
		t.Fatalf("selected a snapshot not strictly older than now")
	}

	if _, ok := h.Select("0xother", 4000, 1800, 0); ok {
		t.Fatalf("selected a snapshot for an unknown pool")
	}
}

func TestHistorySaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "history.json")
	pool := "0x2222222222222222222222222222222222222222"

	h := NewHistory(path, 10)
	if err := h.Load(); err != nil {
		t.Fatalf("load of missing file: %v", err)
	}

	want := snapshotAt(1234, 42, 43)
	h.Append(pool, want)
	if err := h.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := NewHistory(path, 10)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := reloaded.Select(pool, 2000, 766, 0)
	if !ok {
		t.Fatalf("snapshot lost across save/load")
	}
	if got.Timestamp != want.Timestamp ||
		!got.FeeGrowth0X128.Eq(&want.FeeGrowth0X128) ||
		!got.FeeGrowth1X128.Eq(&want.FeeGrowth1X128) {
		t.Fatalf("snapshot mismatch after reload: %+v != %+v", got, want)
	}
}
