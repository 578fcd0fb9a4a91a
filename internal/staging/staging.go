// Package staging writes archive snapshots into a hidden staging tree and
// moves them into place once every file has been written.
package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Manager struct {
	baseDir     string
	stagingRoot string
}

func NewManager(baseDir string) *Manager {
	return &Manager{
		baseDir:     baseDir,
		stagingRoot: filepath.Join(baseDir, ".staging"),
	}
}

func (m *Manager) FinalDir(session string) string {
	return filepath.Join(m.baseDir, filepath.FromSlash(session))
}

func (m *Manager) StagingRoot() string {
	return m.stagingRoot
}

func (m *Manager) StagingDir(session string) string {
	return filepath.Join(m.stagingRoot, filepath.FromSlash(session))
}

func (m *Manager) PrepareStaging(session string) error {
	return os.MkdirAll(m.StagingDir(session), 0750)
}

// WriteToStaging writes src to name inside the session's staging directory
// through a temp file and a rename, so a partial file never has the final name.
func (m *Manager) WriteToStaging(session, name string, src io.WriterTo) (int64, error) {
	destPath := filepath.Join(m.StagingDir(session), name)

	// Create parent directories
	if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
		return 0, fmt.Errorf("creating directories: %w", err)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}

	size, err := src.WriteTo(f)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("writing file: %w", err)
	}

	// Atomic rename
	if err := os.Rename(tmpPath, destPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("renaming temp file: %w", err)
	}

	return size, nil
}

// CommitStaging moves every staged file of session into the final tree,
// replacing files with the same name.
func (m *Manager) CommitStaging(session string) error {
	stagingDir := m.StagingDir(session)
	finalDir := m.FinalDir(session)

	// Walk staging and move files
	return filepath.Walk(stagingDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(stagingDir, path)
		if err != nil {
			return err
		}

		destPath := filepath.Join(finalDir, relPath)
		if err := os.MkdirAll(filepath.Dir(destPath), 0750); err != nil {
			return err
		}

		return os.Rename(path, destPath)
	})
}

func (m *Manager) CleanupStaging(session string) error {
	return os.RemoveAll(m.StagingDir(session))
}
