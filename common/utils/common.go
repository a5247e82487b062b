package utils

import (
	"os"
	"os/user"
	"path"
	"path/filepath"
)

func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// FindProjectRoot walks up from startDir until a go.mod is found.
// Returns startDir when none exists.
func FindProjectRoot(startDir string) string {
	dir := startDir
	for {
		if _, err := os.Stat(path.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parentDir := path.Dir(dir)
		if parentDir == dir {
			return startDir
		}
		dir = parentDir
	}
}

// EnsureDir creates the parent directory of p (or p itself when it ends with a separator).
func EnsureDir(p string) error {
	dir := p
	if len(p) > 0 && p[len(p)-1] != '/' {
		dir = filepath.Dir(p)
	}
	return os.MkdirAll(dir, 0o700)
}
