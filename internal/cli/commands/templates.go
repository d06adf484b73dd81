package commands

import (
	"embed"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed all:templates
var templateFS embed.FS

// copyTemplate copies an embedded template directory to targetDir and
// returns the files written. Existing files are kept unless force is set.
func copyTemplate(name, targetDir string, force bool) ([]string, error) {
	root := path.Join("templates", name)
	var written []string

	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if rel == "" {
			return nil
		}
		target := filepath.Join(targetDir, filepath.FromSlash(rel))
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !force {
			if _, err := os.Stat(target); err == nil {
				return nil
			}
		}
		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0o600); err != nil {
			return err
		}
		written = append(written, rel)
		return nil
	})
	sort.Strings(written)
	return written, err
}

// writeGitignore writes the shared .gitignore unless one exists.
func writeGitignore(targetDir string) (bool, error) {
	target := filepath.Join(targetDir, ".gitignore")
	if _, err := os.Stat(target); err == nil {
		return false, nil
	}
	content, err := templateFS.ReadFile("templates/gitignore")
	if err != nil {
		return false, err
	}
	return true, os.WriteFile(target, content, 0o600)
}
