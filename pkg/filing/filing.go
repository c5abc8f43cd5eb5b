// Package filing defines the disclosure documents the rest of riskscan
// acquires and extracts sections from.
package filing

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DateLayout is the compact date form used in file names, e.g. 20190227.
const DateLayout = "20060102"

var (
	// ErrUnknownKind is returned for document kinds other than annual or quarterly.
	ErrUnknownKind = errors.New("unknown document kind")

	// ErrInvalidEntity is returned for a malformed entity identifier.
	ErrInvalidEntity = errors.New("invalid entity identifier")

	// ErrNoEntities is returned when an entity list is empty.
	ErrNoEntities = errors.New("at least one entity identifier is required")
)

// Kind is the type of periodic report.
type Kind string

const (
	// Annual is a 10-K annual report.
	Annual Kind = "annual"

	// Quarterly is a 10-Q quarterly report.
	Quarterly Kind = "quarterly"
)

// ParseKind accepts "annual", "quarterly" or the form names "10-K" and
// "10-Q" in any case.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "annual", "10-k", "10k":
		return Annual, nil
	case "quarterly", "10-q", "10q":
		return Quarterly, nil
	default:
		return "", fmt.Errorf("%w: %q (use annual/10-k or quarterly/10-q)", ErrUnknownKind, value)
	}
}

// FormType returns the EDGAR form name for the kind.
func (k Kind) FormType() string {
	switch k {
	case Annual:
		return "10-K"
	case Quarterly:
		return "10-Q"
	default:
		return ""
	}
}

// Valid reports whether the kind is one of the known kinds.
func (k Kind) Valid() bool {
	return k == Annual || k == Quarterly
}

// Filing identifies one disclosure document.
type Filing struct {
	EntityID  string    `json:"entity_id"`
	Date      time.Time `json:"date"`
	Kind      Kind      `json:"kind"`
	URL       string    `json:"url,omitempty"`
	LocalPath string    `json:"local_path,omitempty"`
}

// ID returns the identity used to key outputs and reports, e.g. "OXY/20190221".
func (f Filing) ID() string {
	return f.EntityID + "/" + f.Date.Format(DateLayout)
}

// DocumentPath returns where the raw document of the filing lives under root.
func (f Filing) DocumentPath(root string) string {
	return filepath.Join(root, f.EntityID, f.Date.Format(DateLayout)+".htm")
}

// SectionPath returns where the extracted section of the filing lives under root.
func (f Filing) SectionPath(root string) string {
	return filepath.Join(root, f.EntityID, f.Date.Format(DateLayout)+".txt")
}

// FromDocumentPath rebuilds a Filing from a path laid out as
// <root>/<ENTITY>/<YYYYMMDD>.htm. The entity is the parent directory name.
func FromDocumentPath(path string, kind Kind) (Filing, error) {
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	date, err := time.Parse(DateLayout, stem)
	if err != nil {
		return Filing{}, fmt.Errorf("failed to parse filing date from %s: %w", base, err)
	}

	entityID := filepath.Base(filepath.Dir(path))
	if err := ValidateEntityID(entityID); err != nil {
		return Filing{}, err
	}

	return Filing{
		EntityID:  entityID,
		Date:      date,
		Kind:      kind,
		LocalPath: path,
	}, nil
}

// entityIDPattern matches ticker symbols (BRK.B, BF-B) and numeric CIKs.
var entityIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,11}$`)

// ValidateEntityID checks that an identifier is an upper-case ticker or a CIK.
func ValidateEntityID(entityID string) error {
	if !entityIDPattern.MatchString(entityID) {
		return fmt.Errorf("%w: %q", ErrInvalidEntity, entityID)
	}
	return nil
}

// EntityList is a validated, non-empty, ordered list of entity identifiers
// without duplicates.
type EntityList struct {
	identifiers []string
}

// NewEntityList validates identifiers once at the boundary. Identifiers are
// trimmed and upper-cased; later duplicates are dropped.
func NewEntityList(identifiers []string) (EntityList, error) {
	seen := make(map[string]bool, len(identifiers))
	cleaned := make([]string, 0, len(identifiers))

	for _, identifier := range identifiers {
		identifier = strings.ToUpper(strings.TrimSpace(identifier))
		if err := ValidateEntityID(identifier); err != nil {
			return EntityList{}, err
		}
		if seen[identifier] {
			continue
		}
		seen[identifier] = true
		cleaned = append(cleaned, identifier)
	}

	if len(cleaned) == 0 {
		return EntityList{}, ErrNoEntities
	}
	return EntityList{identifiers: cleaned}, nil
}

// IDs returns a copy of the identifiers in their original order.
func (l EntityList) IDs() []string {
	return append([]string(nil), l.identifiers...)
}

// Len returns the number of identifiers.
func (l EntityList) Len() int {
	return len(l.identifiers)
}

// LoadEntityList reads one identifier per line from path. Blank lines and
// lines starting with '#' are ignored.
func LoadEntityList(path string) (EntityList, error) {
	file, err := os.Open(path)
	if err != nil {
		return EntityList{}, fmt.Errorf("failed to open entity list: %w", err)
	}
	defer file.Close()

	var identifiers []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		identifiers = append(identifiers, line)
	}
	if err := scanner.Err(); err != nil {
		return EntityList{}, fmt.Errorf("failed to read entity list %s: %w", path, err)
	}

	list, err := NewEntityList(identifiers)
	if err != nil {
		return EntityList{}, fmt.Errorf("entity list %s: %w", path, err)
	}
	return list, nil
}
