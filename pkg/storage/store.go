// Package storage is the host-side file backend for both engines. It
// resolves job and system-table filenames, applies the overwrite
// policy and keeps job names consistent with their filenames.
package storage

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotInWhitelist = errors.New("storage: file not in whitelist")
	ErrNoSuchFile     = errors.New("storage: no such file")
)

// A Store gives the engines access to job files inside a single root
// directory. An optional whitelist restricts which files are visible,
// the overwrite flag selects between clobbering and -N renaming.
type Store struct {
	logger    *slog.Logger
	root      string
	whitelist []string
	overwrite bool
}

func NewStore(root string, overwrite bool, whitelist []string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if root == "" {
		root = "."
	}
	return &Store{
		logger:    logger,
		root:      root,
		whitelist: whitelist,
		overwrite: overwrite,
	}
}

// Whitelisted reports whether name may be served. An empty whitelist
// allows everything.
func (s *Store) Whitelisted(name string) bool {
	if len(s.whitelist) == 0 {
		return true
	}
	for _, entry := range s.whitelist {
		if entry == name {
			return true
		}
	}
	return false
}

func (s *Store) Path(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.Path(name))
	return err == nil
}

// NameFix makes sure that a jobname appearing in the job file matches
// the job's filename, logging any correction. It also enforces \r\n
// line endings, including a terminating one.
func (s *Store) NameFix(filename, data string) string {
	expected := "//NAME " + strings.TrimSuffix(filename, filepath.Ext(filename))

	var result []string
	for _, line := range splitLines(data) {
		if strings.HasPrefix(line, "//NAME ") && line != expected {
			s.logger.Info("changing job name",
				"file", filename, "from", line, "to", expected)
			result = append(result, expected)
			continue
		}
		result = append(result, line)
	}
	return strings.Join(result, "\r\n") + "\r\n"
}

// ResolveWriteTarget applies the overwrite policy: when overwriting is
// denied and the target exists, TEST.JBI becomes TEST-1.JBI and the
// counter keeps incrementing until a free name is found.
func (s *Store) ResolveWriteTarget(desired string) string {
	if s.overwrite || !s.Exists(desired) {
		return desired
	}
	ext := filepath.Ext(desired)
	stem := strings.TrimSuffix(desired, ext)
	for counter := 1; ; counter++ {
		candidate := fmt.Sprintf("%s-%d%s", stem, counter, ext)
		if !s.Exists(candidate) {
			s.logger.Info("renaming to avoid overwrite",
				"from", desired, "to", candidate)
			return candidate
		}
	}
}

// ListJobFiles returns the files available to the robot: the whitelist
// filtered to files that exist, or every *.JBI in the root whose name
// length fits the FC1 directory format.
func (s *Store) ListJobFiles() ([]string, error) {
	if len(s.whitelist) > 0 {
		var result []string
		for _, name := range s.whitelist {
			if s.Exists(name) {
				result = append(result, name)
			}
		}
		return result, nil
	}
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".JBI") {
			continue
		}
		if 4 < len(name) && len(name) < 17 {
			result = append(result, name)
		}
	}
	return result, nil
}

// ReadJob loads a job file, applying NameFix so that the transmitted
// content always matches the filename.
func (s *Store) ReadJob(name string) (string, error) {
	data, err := os.ReadFile(s.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %v", ErrNoSuchFile, name)
		}
		return "", err
	}
	return s.NameFix(name, string(data)), nil
}

// Create opens a new file for an incoming transfer, honouring the
// overwrite policy. It returns the open file and the name actually
// used.
func (s *Store) Create(desired string) (*os.File, string, error) {
	name := s.ResolveWriteTarget(desired)
	file, err := os.Create(s.Path(name))
	if err != nil {
		return nil, "", err
	}
	return file, name, nil
}

// WriteFile stores a complete incoming file, honouring the overwrite
// policy, and returns the name actually used.
func (s *Store) WriteFile(desired string, content []byte) (string, error) {
	name := s.ResolveWriteTarget(desired)
	if err := os.WriteFile(s.Path(name), content, 0644); err != nil {
		return "", err
	}
	return name, nil
}

// splitLines splits on \r\n, \r or \n without keeping terminators,
// dropping the empty trailer a terminated file would otherwise yield.
func splitLines(data string) []string {
	if data == "" {
		return nil
	}
	normalized := strings.ReplaceAll(data, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
