package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"reef-ingest/internal/model"
)

// Unit is one logical batch of chain-derived records processed together:
// the unit of atomicity expected from the batch writer calls.
type Unit struct {
	BlockID    int64                   `json:"block_id"`
	Timestamp  time.Time               `json:"timestamp"`
	Events     []model.EventRecord     `json:"events"`
	Accounts   []model.AccountRecord   `json:"accounts"`
	PoolEvents []model.PoolEventRecord `json:"pool_events"`
}

// Source supplies ingestion units. This is the boundary to the upstream
// chain subscription and decoding layer, which is a collaborator of this
// core rather than part of it. Next returns io.EOF when drained.
type Source interface {
	Next(ctx context.Context) (*Unit, error)
}

// maxUnitLine bounds a single serialized unit. Blocks with thousands of
// events fit comfortably.
const maxUnitLine = 16 << 20

// JSONLSource replays decoded chain dumps, one JSON unit per line.
type JSONLSource struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// OpenJSONL opens a unit dump file.
func OpenJSONL(path string) (*JSONLSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open unit dump: %w", err)
	}
	src := NewJSONLSource(file)
	src.closer = file
	return src, nil
}

// NewJSONLSource reads units from an arbitrary reader.
func NewJSONLSource(r io.Reader) *JSONLSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), maxUnitLine)
	return &JSONLSource{scanner: scanner}
}

// Next parses the next unit. Blank lines are skipped; a malformed line is
// an error carrying its line number.
func (s *JSONLSource) Next(ctx context.Context) (*Unit, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("read unit dump: %w", err)
			}
			return nil, io.EOF
		}
		s.line++

		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var unit Unit
		if err := json.Unmarshal(raw, &unit); err != nil {
			return nil, fmt.Errorf("parse unit at line %d: %w", s.line, err)
		}
		return &unit, nil
	}
}

// Close releases the underlying file, if any.
func (s *JSONLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

var _ Source = (*JSONLSource)(nil)
