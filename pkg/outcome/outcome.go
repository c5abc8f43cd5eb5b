// Package outcome records the per-filing result of extraction runs so that
// repeated runs can be compared and matched filings skipped.
package outcome

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is the outcome of one filing in one run.
type Record struct {
	RunID      uuid.UUID `json:"run_id"`
	FilingID   string    `json:"filing_id"`
	EntityID   string    `json:"entity_id"`
	FilingDate time.Time `json:"filing_date"`
	Kind       string    `json:"kind"`
	Outcome    string    `json:"outcome"`
	RuleIndex  int       `json:"rule_index"`
	RuleID     string    `json:"rule_id,omitempty"`
	Length     int       `json:"length"`
	Reason     string    `json:"reason,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository persists outcome records.
type Repository interface {
	// Save upserts the record for (RunID, FilingID).
	Save(ctx context.Context, record Record) error

	// Matched returns which of the filing IDs have a matched outcome in any run.
	Matched(ctx context.Context, filingIDs []string) (map[string]bool, error)
}

// MemoryRepository keeps records in memory. It is used when no database is
// configured.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[recordKey]Record
}

type recordKey struct {
	runID    uuid.UUID
	filingID string
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]Record)}
}

// Save stores the record, replacing an earlier one for the same run and filing.
func (m *MemoryRepository) Save(ctx context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[recordKey{runID: record.RunID, filingID: record.FilingID}] = record
	return nil
}

// Matched returns which of the filing IDs were matched in any run.
func (m *MemoryRepository) Matched(ctx context.Context, filingIDs []string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wanted := make(map[string]bool, len(filingIDs))
	for _, filingID := range filingIDs {
		wanted[filingID] = true
	}

	result := make(map[string]bool)
	for key, record := range m.records {
		if wanted[key.filingID] && record.Outcome == "matched" {
			result[key.filingID] = true
		}
	}
	return result, nil
}

// Records returns every stored record of a run.
func (m *MemoryRepository) Records(runID uuid.UUID) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []Record
	for key, record := range m.records {
		if key.runID == runID {
			records = append(records, record)
		}
	}
	return records
}
