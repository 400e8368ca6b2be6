package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LogStorage manages saving step logs to files
type LogStorage struct {
	BaseDir string
}

// NewLogStorage creates a new log storage handler
func NewLogStorage(baseDir string) *LogStorage {
	return &LogStorage{BaseDir: baseDir}
}

// SaveLog saves the output of one step as <base>/<run>/<job>/<nn>_<step>.log
func (ls *LogStorage) SaveLog(runID, job string, index int, step, output string) (string, error) {
	dir := filepath.Join(ls.BaseDir, sanitize(runID), sanitize(job))
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", err
	}

	filename := fmt.Sprintf("%02d_%s.log", index, sanitize(step))
	filePath := filepath.Join(dir, filename)

	if err := os.WriteFile(filePath, []byte(output), 0o644); err != nil {
		return "", err
	}
	return filePath, nil
}

// ReadLog returns a log previously written by SaveLog. The path must live
// under BaseDir.
func (ls *LogStorage) ReadLog(path string) (string, error) {
	rel, err := filepath.Rel(ls.BaseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("log path %q is outside %q", path, ls.BaseDir)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sanitize removes special characters from names used in file paths
func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.' || r == ',' || r == '/':
			b.WriteRune('_')
		}
	}
	clean := strings.Trim(b.String(), "_")
	if clean == "" {
		return "step"
	}
	return clean
}
