package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxConfigSize = 1 << 20 // 1MB
	maxJSONDepth  = 32
	maxEnvVarLen  = 4096
	maxPathLen    = 4096
)

var allowedExtensions = map[string]string{
	".json": formatJSON,
	".yaml": formatYAML,
	".yml":  formatYAML,
}

// formatForPath returns the document format implied by the file extension.
func formatForPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty config path")
	}
	if len(path) > maxPathLen {
		return "", fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("cannot get working directory: %w", err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("cannot resolve absolute path: %w", err)
		}
		rel, err := filepath.Rel(cwd, abs)
		if err != nil || strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("path traversal not allowed: %s resolves outside working directory", path)
		}
	}

	format, ok := allowedExtensions[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("unsupported config file type: %s (want .json, .yaml or .yml)", path)
	}
	return format, nil
}

// safeReadFile reads a regular file of bounded size.
func safeReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}
	return os.ReadFile(path)
}

// safeWriteFile writes data readable only by the owner.
func safeWriteFile(path string, data []byte) error {
	if _, err := formatForPath(path); err != nil {
		return err
	}
	if len(data) > maxConfigSize {
		return fmt.Errorf("config data too large: %d bytes > %d", len(data), maxConfigSize)
	}
	return os.WriteFile(path, data, 0o600)
}

func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.ContainsRune(value, 0) {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// validateJSONDepth rejects documents nested deeper than maxJSONDepth.
func validateJSONDepth(data []byte) error {
	depth := 0
	inString := false
	escaped := false

	for _, b := range data {
		if escaped {
			escaped = false
			continue
		}
		if inString {
			switch b {
			case '\\':
				escaped = true
			case '"':
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{', '[':
			depth++
			if depth > maxJSONDepth {
				return fmt.Errorf("JSON nesting too deep: %d > %d", depth, maxJSONDepth)
			}
		case '}', ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("malformed JSON: unbalanced brackets")
			}
		}
	}
	if depth != 0 {
		return fmt.Errorf("malformed JSON: unclosed brackets (depth=%d)", depth)
	}
	return nil
}
