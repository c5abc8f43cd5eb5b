// Package output persists extracted sections under an explicit root
// directory, one file per filing.
package output

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/coolbeans/riskscan/pkg/filing"
	"github.com/coolbeans/riskscan/pkg/scrape"
)

// DirectoryStore writes each accepted section to
// <Root>/<ENTITY>/<YYYYMMDD>.txt.
type DirectoryStore struct {
	root string
}

var _ scrape.Sink = (*DirectoryStore)(nil)

// NewDirectoryStore creates a store rooted at root, creating it if needed.
func NewDirectoryStore(root string) (*DirectoryStore, error) {
	if root == "" {
		return nil, fmt.Errorf("output root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output root %s: %w", root, err)
	}
	return &DirectoryStore{root: root}, nil
}

// Root returns the directory the store writes under.
func (s *DirectoryStore) Root() string {
	return s.root
}

// PathFor returns where the section of target is stored.
func (s *DirectoryStore) PathFor(target filing.Filing) string {
	return target.SectionPath(s.root)
}

// Exists reports whether a section was already committed for target.
func (s *DirectoryStore) Exists(target filing.Filing) bool {
	info, err := os.Stat(s.PathFor(target))
	return err == nil && info.Size() > 0
}

// Commit writes text for target in a single step: the content goes to a
// temporary file in the destination directory which is then renamed over
// the final path, so readers never observe a partial section.
func (s *DirectoryStore) Commit(target filing.Filing, text string) error {
	finalPath := s.PathFor(target)
	directory := filepath.Dir(finalPath)
	if err := os.MkdirAll(directory, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", directory, err)
	}

	temporaryFile, err := os.CreateTemp(directory, ".section-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", directory, err)
	}
	temporaryPath := temporaryFile.Name()

	if _, err := temporaryFile.WriteString(text); err != nil {
		temporaryFile.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to write %s: %w", temporaryPath, err)
	}
	if err := temporaryFile.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to close %s: %w", temporaryPath, err)
	}
	if err := os.Chmod(temporaryPath, 0644); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to set permissions on %s: %w", temporaryPath, err)
	}

	if err := os.Rename(temporaryPath, finalPath); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("failed to move section into %s: %w", finalPath, err)
	}
	return nil
}
