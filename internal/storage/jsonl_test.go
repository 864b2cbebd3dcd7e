package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Flip-Liquid/valorem-oracles/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "volatility.jsonl")
	s := NewJsonlStorage(path)

	rec := model.VolatilityRecord{
		ChainID:       1,
		PoolAddress:   "0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8",
		Token0:        "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		Token1:        "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		Fee:           3000,
		ImpliedVolX18: "17875534925576335913",
		WindowStartTS: 1000,
		WindowEndTS:   4600,
		ComputedAt:    time.Unix(1700000000, 0).UTC(),
	}

	if err := s.PutVolatilityBatch(context.Background(), []model.VolatilityRecord{rec}); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	second := rec
	second.WindowEndTS = 8200
	if err := s.PutVolatilityBatch(context.Background(), []model.VolatilityRecord{second}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var got []model.VolatilityRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var r model.VolatilityRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		got = append(got, r)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0] != rec {
		t.Fatalf("first record mismatch: %+v != %+v", got[0], rec)
	}
	if got[1].WindowEndTS != 8200 {
		t.Fatalf("second record window end = %d, want 8200", got[1].WindowEndTS)
	}
}

func TestJsonlStorageEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "volatility.jsonl")
	s := NewJsonlStorage(path)

	if err := s.PutVolatilityBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("empty batch should not create the file")
	}
}
