package edgar

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ManifestFileName is the manifest's name under an output root.
const ManifestFileName = "manifest.json"

const manifestVersion = "1.0.0"

// Manifest tracks which filings have been downloaded under an output root.
type Manifest struct {
	Version   string             `json:"version"`
	UpdatedAt time.Time          `json:"updated_at"`
	Filings   map[string]*Record `json:"filings"`

	mu sync.Mutex
}

// Record tracks a single downloaded filing.
type Record struct {
	FilingID     string    `json:"filing_id"`
	EntityID     string    `json:"entity_id"`
	Kind         string    `json:"kind"`
	FilingDate   time.Time `json:"filing_date"`
	URL          string    `json:"url"`
	LocalPath    string    `json:"local_path"`
	SizeBytes    int64     `json:"size_bytes"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// NewManifest creates an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{
		Version:   manifestVersion,
		UpdatedAt: time.Now(),
		Filings:   make(map[string]*Record),
	}
}

// LoadManifest reads a manifest from disk; a missing file yields an empty one.
func LoadManifest(manifestPath string) (*Manifest, error) {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		if os.IsNotExist(err) {
			return NewManifest(), nil
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	manifest := &Manifest{}
	if err := json.Unmarshal(data, manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if manifest.Filings == nil {
		manifest.Filings = make(map[string]*Record)
	}

	return manifest, nil
}

// Save writes the manifest to disk.
func (m *Manifest) Save(manifestPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdatedAt = time.Now()

	if err := os.MkdirAll(filepath.Dir(manifestPath), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	return nil
}

// Record adds a downloaded filing to the manifest.
func (m *Manifest) Record(record *Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Filings[record.FilingID] = record
}

// Get returns the record for a filing ID, or nil.
func (m *Manifest) Get(filingID string) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Filings[filingID]
}

// CountByEntity returns the number of downloads recorded for an entity.
func (m *Manifest) CountByEntity(entityID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, record := range m.Filings {
		if record.EntityID == entityID {
			count++
		}
	}
	return count
}
