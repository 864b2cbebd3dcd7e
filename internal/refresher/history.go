package refresher

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/holiman/uint256"

	"github.com/Flip-Liquid/valorem-oracles/internal/volatility"
)

// History keeps a bounded ring of fee growth snapshots per pool, so the
// refresher always has an "early" snapshot roughly one target window old. It
// persists to a JSON file across restarts.
type History struct {
	path  string
	depth int

	mu        sync.Mutex
	snapshots map[string][]volatility.FeeGrowthGlobals
}

type snapshotJSON struct {
	FeeGrowth0X128 string `json:"fee_growth0_x128"`
	FeeGrowth1X128 string `json:"fee_growth1_x128"`
	Timestamp      uint32 `json:"timestamp"`
}

func NewHistory(path string, depth int) *History {
	if depth <= 0 {
		depth = 25
	}
	return &History{
		path:      path,
		depth:     depth,
		snapshots: make(map[string][]volatility.FeeGrowthGlobals),
	}
}

// Load reads persisted snapshots. A missing file is an empty history, not an
// error.
func (h *History) Load() error {
	if h.path == "" {
		return nil
	}

	data, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read history: %w", err)
	}

	var raw map[string][]snapshotJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse history: %w", err)
	}

	snapshots := make(map[string][]volatility.FeeGrowthGlobals, len(raw))
	for pool, entries := range raw {
		ring := make([]volatility.FeeGrowthGlobals, 0, len(entries))
		for _, entry := range entries {
			fg := volatility.FeeGrowthGlobals{Timestamp: entry.Timestamp}
			if err := setFromDecimal(&fg.FeeGrowth0X128, entry.FeeGrowth0X128); err != nil {
				return fmt.Errorf("parse history for %s: %w", pool, err)
			}
			if err := setFromDecimal(&fg.FeeGrowth1X128, entry.FeeGrowth1X128); err != nil {
				return fmt.Errorf("parse history for %s: %w", pool, err)
			}
			ring = append(ring, fg)
		}
		snapshots[pool] = ring
	}

	h.mu.Lock()
	h.snapshots = snapshots
	h.mu.Unlock()
	return nil
}

// Save writes the history atomically (write to a temp file, then rename).
func (h *History) Save() error {
	if h.path == "" {
		return nil
	}

	h.mu.Lock()
	raw := make(map[string][]snapshotJSON, len(h.snapshots))
	for pool, ring := range h.snapshots {
		entries := make([]snapshotJSON, 0, len(ring))
		for _, fg := range ring {
			entries = append(entries, snapshotJSON{
				FeeGrowth0X128: fg.FeeGrowth0X128.Dec(),
				FeeGrowth1X128: fg.FeeGrowth1X128.Dec(),
				Timestamp:      fg.Timestamp,
			})
		}
		raw[pool] = entries
	}
	h.mu.Unlock()

	dir := filepath.Dir(h.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}

	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	tmpPath := h.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write history tmp: %w", err)
	}
	if err := os.Rename(tmpPath, h.path); err != nil {
		return fmt.Errorf("rename history: %w", err)
	}

	return nil
}

// Append records a snapshot for a pool, dropping the oldest entry once the
// ring is full. A snapshot whose timestamp is not newer than the last one is
// ignored.
func (h *History) Append(pool string, fg volatility.FeeGrowthGlobals) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ring := h.snapshots[pool]
	if len(ring) > 0 && fg.Timestamp <= ring[len(ring)-1].Timestamp {
		return
	}
	ring = append(ring, fg)
	if len(ring) > h.depth {
		ring = ring[len(ring)-h.depth:]
	}
	h.snapshots[pool] = ring
}

// Select picks the stored snapshot whose age relative to now is closest to
// target, among snapshots strictly older than now and no older than maxAge.
func (h *History) Select(pool string, now, target, maxAge uint32) (volatility.FeeGrowthGlobals, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var best volatility.FeeGrowthGlobals
	found := false
	var bestDistance uint32

	for _, fg := range h.snapshots[pool] {
		if fg.Timestamp >= now {
			continue
		}
		age := now - fg.Timestamp
		if maxAge > 0 && age > maxAge {
			continue
		}

		distance := age - target
		if age < target {
			distance = target - age
		}
		if !found || distance < bestDistance {
			best = fg
			bestDistance = distance
			found = true
		}
	}

	return best, found
}

func setFromDecimal(dst *uint256.Int, s string) error {
	if err := dst.SetFromDecimal(s); err != nil {
		return fmt.Errorf("invalid fee growth value %q: %w", s, err)
	}
	return nil
}
