package security

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// ValidateFilePath validates that a file path is safe and doesn't contain directory traversal attempts
func ValidateFilePath(p string) error {
	if p == "" {
		return fmt.Errorf("file path cannot be empty")
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains null byte: %q", p)
	}

	for _, segment := range strings.Split(filepath.ToSlash(p), "/") {
		if segment == ".." {
			return fmt.Errorf("path contains directory traversal: %s", p)
		}
	}

	return nil
}

// ValidateFilePathWithBase validates a file path against a base directory
func ValidateFilePathWithBase(p, baseDir string) error {
	if err := ValidateFilePath(p); err != nil {
		return err
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("absolute paths not allowed: %s", p)
	}

	cleanPath := filepath.Clean(filepath.Join(baseDir, p))
	cleanBase := filepath.Clean(baseDir)

	if cleanPath != cleanBase && !strings.HasPrefix(cleanPath, cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("path escapes base directory: %s", p)
	}

	return nil
}

// ValidateObjectKey checks a blob store key supplied by a caller. Keys are relative,
// slash separated and may not climb out of their prefix.
func ValidateObjectKey(key string) error {
	if key == "" {
		return fmt.Errorf("object key cannot be empty")
	}
	if len(key) > 1024 {
		return fmt.Errorf("object key too long: %d bytes", len(key))
	}
	if strings.HasPrefix(key, "/") || strings.ContainsAny(key, "\\\x00") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	if path.Clean(key) != key {
		return fmt.Errorf("object key is not canonical: %s", key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return fmt.Errorf("object key contains directory traversal: %s", key)
		}
	}
	return nil
}

// HasPrefix reports whether key lives under one of the prefixes.
func HasPrefix(key string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		prefix = strings.TrimSuffix(prefix, "/")
		if prefix != "" && strings.HasPrefix(key, prefix+"/") {
			return true
		}
	}
	return false
}
