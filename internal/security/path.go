package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain
// directory traversal attempts. Absolute paths are allowed: database and
// config files legitimately live anywhere on the host.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains null byte")
	}

	cleanPath := filepath.Clean(path)

	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains directory traversal: %s", path)
	}

	return nil
}

// ValidateFilePathWithBase validates a relative file path against a base
// directory. The resolved path must stay inside the base.
func ValidateFilePathWithBase(path, baseDir string) error {
	if err := ValidateFilePath(path); err != nil {
		return err
	}

	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}

	fullPath := filepath.Join(baseDir, path)
	cleanPath := filepath.Clean(fullPath)
	cleanBase := filepath.Clean(baseDir)

	if !strings.HasPrefix(cleanPath, cleanBase) {
		return fmt.Errorf("path escapes base directory: %s", path)
	}

	return nil
}
