// Package artifact persists generated source so it can be downloaded.
package artifact

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSuffix is appended to the upload's base name.
const DefaultSuffix = "_app.py"

// WriteError reports a failure to persist an artifact.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write artifact %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Config configures a Persister.
type Config struct {
	Dir    string
	Suffix string
	Logger *slog.Logger
}

// Persister writes extracted code to <basename><suffix> inside Dir.
type Persister struct {
	dir    string
	suffix string
	logger *slog.Logger
}

// NewPersister creates a Persister. An empty Dir means the working directory.
func NewPersister(cfg Config) *Persister {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.Suffix == "" {
		cfg.Suffix = DefaultSuffix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Persister{dir: cfg.Dir, suffix: cfg.Suffix, logger: cfg.Logger}
}

// Dir returns the directory artifacts are written to.
func (p *Persister) Dir() string {
	return p.dir
}

// TargetPath returns where an upload named sourceFileName is persisted.
// Only the base name of the upload is used, so client-supplied paths can not
// escape Dir.
func (p *Persister) TargetPath(sourceFileName string) string {
	return filepath.Join(p.dir, Name(sourceFileName, p.suffix))
}

// Persist writes code for sourceFileName, replacing any previous content.
// The write goes through a temp file and a rename so a reader never sees a
// partially written artifact.
func (p *Persister) Persist(code, sourceFileName string) (string, error) {
	path := p.TargetPath(sourceFileName)

	if err := os.MkdirAll(p.dir, 0o750); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(p.dir, ".artifact-*")
	if err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.WriteString(code); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", &WriteError{Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", &WriteError{Path: path, Err: err}
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { //nolint:gosec // generated scripts are meant to be readable
		_ = os.Remove(tmpName)
		return "", &WriteError{Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", &WriteError{Path: path, Err: err}
	}

	p.logger.Debug("artifact written", "path", path, "bytes", len(code))
	return path, nil
}

// Name derives the artifact file name: the upload's base name with its last
// extension removed, followed by suffix.
func Name(sourceFileName, suffix string) string {
	base := filepath.Base(strings.ReplaceAll(sourceFileName, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "dataset"
	}
	if i := strings.LastIndex(base, "."); i >= 0 {
		base = base[:i]
	}
	return base + suffix
}
