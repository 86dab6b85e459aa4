package inspector

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// packageDir is a directory holding an installed package.json.
type packageDir struct {
	path  string
	depth int
}

// scanner walks node_modules trees, visiting every real directory once so
// symlinked layouts (pnpm, workspaces) cannot loop.
type scanner struct {
	seen map[string]bool
	dirs []packageDir
}

// discoverPackages lists the installed packages under root/node_modules,
// nested node_modules and the pnpm virtual store included.
func discoverPackages(root string) ([]packageDir, error) {
	s := &scanner{seen: make(map[string]bool)}

	modules := filepath.Join(root, "node_modules")
	if err := s.walkModules(modules, 1); err != nil {
		return nil, err
	}

	store, err := os.ReadDir(filepath.Join(modules, ".pnpm"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	for _, entry := range store {
		if !entry.IsDir() || entry.Name() == "node_modules" {
			continue
		}
		if err := s.walkModules(filepath.Join(modules, ".pnpm", entry.Name(), "node_modules"), 2); err != nil {
			return nil, err
		}
	}

	return s.dirs, nil
}

func (s *scanner) walkModules(dir string, depth int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}

		full := filepath.Join(dir, name)
		if !strings.HasPrefix(name, "@") {
			if err := s.visit(full, depth); err != nil {
				return err
			}
			continue
		}

		scoped, err := os.ReadDir(full)
		if err != nil {
			continue
		}
		for _, pkg := range scoped {
			if err := s.visit(filepath.Join(full, pkg.Name()), depth); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *scanner) visit(dir string, depth int) error {
	// broken symlinks and stray files are skipped
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil
	}

	real, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return nil
	}
	if s.seen[real] {
		return nil
	}
	s.seen[real] = true

	if _, err := os.Stat(filepath.Join(dir, "package.json")); err != nil {
		return nil
	}

	s.dirs = append(s.dirs, packageDir{path: dir, depth: depth})
	return s.walkModules(filepath.Join(dir, "node_modules"), depth+1)
}
