package inspector

import (
	"os"
	"path/filepath"
)

var lockfiles = []struct {
	file  string
	agent string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"bun.lock", "bun"},
	{"bun.lockb", "bun"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
	{"npm-shrinkwrap.json", "npm"},
}

// detectAgent names the package manager owning cwd from its lockfile.
func detectAgent(cwd string) string {
	for _, lf := range lockfiles {
		if _, err := os.Stat(filepath.Join(cwd, lf.file)); err == nil {
			return lf.agent
		}
	}
	return ""
}
