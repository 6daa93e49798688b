package main

import (
	"os"
	"path/filepath"
)

// writeFile writes raw to path, creating any missing parent directories.
func writeFile(path string, raw []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, raw, 0o644)
}
