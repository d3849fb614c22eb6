// Package notes persists the model's trading memory as a plain text file
// with line-oriented editing operations.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is a file-backed note pad. All operations are serialized through
// a single mutex so concurrent tool executions cannot interleave writes.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a store persisting to path. The file is created lazily
// on first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string { return s.path }

// Read returns the raw file content. A missing file reads as empty.
func (s *Store) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

// Numbered returns the content with 1-indexed line prefixes in the form
// "   1| text", the shape the line-editing operations expect as input.
func (s *Store) Numbered() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := s.readLocked()
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", nil
	}

	lines := splitLines(content)
	var sb strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&sb, "%4d| %s\n", i+1, line)
	}
	return sb.String(), nil
}

// Write replaces the entire file content.
func (s *Store) Write(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(content)
}

// Append adds content at the end of the file, separated by a newline.
func (s *Store) Append(content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.readLocked()
	if err != nil {
		return err
	}
	if existing != "" && !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return s.writeLocked(existing + content + "\n")
}

// Line edit operations accepted by EditLines.
const (
	OpReplace      = "replace"
	OpDelete       = "delete"
	OpInsertBefore = "insert_before"
)

// EditLines edits the inclusive 1-indexed range [from, to]. Operation
// defaults to replace; replacing with empty content deletes the range.
// It returns the resulting line count.
func (s *Store) EditLines(from, to int, newContent, operation string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if operation == "" {
		operation = OpReplace
	}
	if operation == OpReplace && newContent == "" {
		operation = OpDelete
	}

	content, err := s.readLocked()
	if err != nil {
		return 0, err
	}
	lines := splitLines(content)

	if from < 1 || to < from {
		return 0, fmt.Errorf("notes: invalid line range %d-%d", from, to)
	}

	var result []string
	switch operation {
	case OpReplace, OpDelete:
		if from > len(lines) || to > len(lines) {
			return 0, fmt.Errorf("notes: line range %d-%d exceeds %d lines", from, to, len(lines))
		}
		result = append(result, lines[:from-1]...)
		if operation == OpReplace {
			result = append(result, splitLines(newContent)...)
		}
		result = append(result, lines[to:]...)
	case OpInsertBefore:
		if from > len(lines)+1 {
			return 0, fmt.Errorf("notes: insert point %d exceeds %d lines", from, len(lines))
		}
		result = append(result, lines[:from-1]...)
		result = append(result, splitLines(newContent)...)
		result = append(result, lines[from-1:]...)
	default:
		return 0, fmt.Errorf("notes: unknown operation %q", operation)
	}

	out := strings.Join(result, "\n")
	if out != "" {
		out += "\n"
	}
	if err := s.writeLocked(out); err != nil {
		return 0, err
	}
	return len(result), nil
}

// Clear truncates the file.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked("")
}

func (s *Store) readLocked() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("notes: read %s: %w", s.path, err)
	}
	return string(data), nil
}

func (s *Store) writeLocked(content string) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("notes: create dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("notes: write %s: %w", s.path, err)
	}
	return nil
}

// splitLines splits on newlines without producing a trailing empty
// element for newline-terminated content.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}
