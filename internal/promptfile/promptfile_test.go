package promptfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadIdeaPrefersInline(t *testing.T) {
	got, err := ReadIdea("  knight portrait \n", "does-not-matter.txt", "")
	if err != nil {
		t.Fatalf("ReadIdea: %v", err)
	}
	if got != "knight portrait" {
		t.Fatalf("got %q", got)
	}
}

func TestReadIdeaFallsBackToPromptsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fox.txt"), []byte("\nred fox in snow\n"), 0644); err != nil {
		t.Fatalf("write idea: %v", err)
	}
	got, err := ReadIdea("", "fox.txt", dir)
	if err != nil {
		t.Fatalf("ReadIdea: %v", err)
	}
	if got != "red fox in snow" {
		t.Fatalf("got %q", got)
	}
}

func TestReadIdeaErrors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	if err := os.WriteFile(empty, []byte("  \n\t"), 0644); err != nil {
		t.Fatalf("write empty: %v", err)
	}

	if _, err := ReadIdea("", "", dir); !errors.Is(err, ErrNoIdea) {
		t.Fatalf("expected ErrNoIdea, got %v", err)
	}
	_, err := ReadIdea("", "missing.txt", dir)
	if !errors.Is(err, os.ErrNotExist) || !strings.Contains(err.Error(), "idea file not found: missing.txt") {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = ReadIdea("", empty, dir)
	if err == nil || !strings.Contains(err.Error(), "idea file is empty") {
		t.Fatalf("expected empty error, got %v", err)
	}
}

func TestReadPrompt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "p.txt"), []byte("castle, negative: blurry"), 0644); err != nil {
		t.Fatalf("write prompt: %v", err)
	}
	got, err := ReadPrompt("p.txt", dir)
	if err != nil || got != "castle, negative: blurry" {
		t.Fatalf("ReadPrompt = %q, %v", got, err)
	}
	if _, err := ReadPrompt("nope.txt", dir); err == nil || !strings.Contains(err.Error(), "prompt file not found") {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestWriteTextCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "out.txt")
	if err := WriteText(path, "hello"); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("read back %q, %v", data, err)
	}
}
