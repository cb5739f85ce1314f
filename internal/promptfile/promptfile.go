// Package promptfile reads ideas and prompts from disk and writes results.
package promptfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoIdea is returned when neither an inline idea nor an idea file is given.
var ErrNoIdea = errors.New("no idea provided; use --idea or --idea-file")

// ReadIdea returns the inline idea when set, otherwise the trimmed content
// of ideaFile. A relative ideaFile that does not exist is retried under
// promptsDir.
func ReadIdea(idea, ideaFile, promptsDir string) (string, error) {
	if s := strings.TrimSpace(idea); s != "" {
		return s, nil
	}
	if strings.TrimSpace(ideaFile) == "" {
		return "", ErrNoIdea
	}
	return readNonEmpty("idea", ideaFile, promptsDir)
}

// ReadPrompt reads a prompt file with the same lookup rules as ReadIdea.
func ReadPrompt(path, promptsDir string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("no prompt file provided")
	}
	return readNonEmpty("prompt", path, promptsDir)
}

// Resolve returns path, or promptsDir/path when path is relative, missing
// and the candidate exists.
func Resolve(path, promptsDir string) string {
	if filepath.IsAbs(path) || exists(path) || promptsDir == "" {
		return path
	}
	candidate := filepath.Join(promptsDir, path)
	if exists(candidate) {
		return candidate
	}
	return path
}

// WriteText writes text to path, creating parent directories.
func WriteText(path, text string) error {
	return WriteBytes(path, []byte(text))
}

// WriteBytes writes data to path, creating parent directories.
func WriteBytes(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readNonEmpty(kind, path, promptsDir string) (string, error) {
	p := Resolve(path, promptsDir)
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s file not found: %s: %w", kind, p, os.ErrNotExist)
		}
		return "", fmt.Errorf("read %s file %s: %w", kind, p, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("%s file is empty: %s", kind, p)
	}
	return text, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
