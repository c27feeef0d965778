package config

import (
	"os"
	"path/filepath"
)

const (
	// DirName is the name of the project-level directory
	DirName = ".setl"
	// FileName is the config file name inside DirName
	FileName = "config.yaml"
)

// ConfigPath returns the config file path for a project
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, DirName, FileName)
}

// HasConfig checks if project config exists
func HasConfig(projectRoot string) bool {
	_, err := os.Stat(ConfigPath(projectRoot))
	return err == nil
}

// FindProjectRoot finds the project root by looking for .setl directory
func FindProjectRoot() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, DirName)); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return cwd // fallback to current directory
}

// ResolvePath makes p absolute relative to projectRoot
func ResolvePath(projectRoot, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(projectRoot, p)
}
