package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kayz/sdxlprompt/internal/promptbuild"
	"github.com/kayz/sdxlprompt/internal/reconcile"
)

type fakeBuilder struct {
	inFlight int32
	peak     int32
	mu       sync.Mutex
	ideas    []string
	delay    time.Duration
}

func (f *fakeBuilder) Build(ctx context.Context, req promptbuild.BuildRequest) (*promptbuild.BuildResult, error) {
	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if n <= p || atomic.CompareAndSwapInt32(&f.peak, p, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.ideas = append(f.ideas, req.Idea)
	f.mu.Unlock()
	if req.Idea == "fail" {
		return nil, errors.New("backend down")
	}
	res := reconcile.New(reconcile.Options{MaxTokens: 10}).EnforceTokenCap(req.Idea, "studio lighting")
	return &promptbuild.BuildResult{Idea: req.Idea, Prompt: res.Prompt, Reconcile: res}, nil
}

func writeIdeas(t *testing.T, dir string, ideas map[string]string) {
	t.Helper()
	for name, text := range ideas {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(text), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestRunWritesPromptsAndCountsFailures(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(t.TempDir(), "prompts")
	writeIdeas(t, dir, map[string]string{
		"fox.txt":        "red fox",
		"castle.txt":     "castle at dusk\n",
		"broken.txt":     "fail",
		"empty.txt":      "   ",
		"old.prompt.txt": "already generated",
		"notes.md":       "not an idea",
	})

	fb := &fakeBuilder{}
	r := NewRunner(fb, Options{OutDir: out, Concurrency: 2})
	report, err := r.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Total != 4 || report.Succeeded != 2 || len(report.Failures) != 2 {
		t.Fatalf("unexpected report %+v", report)
	}
	if filepath.Base(report.Failures[0].File) != "broken.txt" || filepath.Base(report.Failures[1].File) != "empty.txt" {
		t.Fatalf("unexpected failures %+v", report.Failures)
	}

	data, err := os.ReadFile(filepath.Join(out, "fox.prompt.txt"))
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(data), "red fox studio lighting negative:") {
		t.Fatalf("unexpected prompt %q", data)
	}
	if _, err := os.Stat(filepath.Join(out, "castle.prompt.txt")); err != nil {
		t.Fatalf("expected castle prompt: %v", err)
	}
}

func TestRunRespectsConcurrency(t *testing.T) {
	dir := t.TempDir()
	ideas := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		ideas[n+".txt"] = "idea " + n
	}
	writeIdeas(t, dir, ideas)

	fb := &fakeBuilder{delay: 20 * time.Millisecond}
	report, err := NewRunner(fb, Options{Concurrency: 2}).Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Succeeded != 6 {
		t.Fatalf("expected 6 prompts, got %+v", report)
	}
	if peak := atomic.LoadInt32(&fb.peak); peak > 2 {
		t.Fatalf("concurrency exceeded: peak %d", peak)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.prompt.txt")); err != nil {
		t.Fatalf("expected output beside ideas: %v", err)
	}
}

func TestRunRateLimitedStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeIdeas(t, dir, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c", "d.txt": "d"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	fb := &fakeBuilder{}
	_, err := NewRunner(fb, Options{Concurrency: 4, Interval: time.Hour, Burst: 1}).Run(ctx, dir)
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.ideas) != 1 {
		t.Fatalf("expected only the burst to run, got %v", fb.ideas)
	}
}

func TestRunMissingDir(t *testing.T) {
	if _, err := NewRunner(&fakeBuilder{}, Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestOutputName(t *testing.T) {
	if got := OutputName("/x/knight.txt"); got != "knight.prompt.txt" {
		t.Fatalf("OutputName = %q", got)
	}
}

func TestParseSchedule(t *testing.T) {
	for _, s := range []string{"*/5 * * * *", "0 */5 * * * *", "@hourly", "@every 30s"} {
		if _, err := ParseSchedule(s); err != nil {
			t.Fatalf("ParseSchedule(%q): %v", s, err)
		}
	}
	if _, err := ParseSchedule("every tuesday"); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestScheduleRunsUntilCanceled(t *testing.T) {
	dir := t.TempDir()
	writeIdeas(t, dir, map[string]string{"fox.txt": "red fox"})

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()

	var runs int32
	r := NewRunner(&fakeBuilder{}, Options{})
	err := r.Schedule(ctx, "@every 1s", dir, func(rep *Report, err error) {
		if err == nil && rep.Succeeded == 1 {
			atomic.AddInt32(&runs, 1)
		}
	})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if atomic.LoadInt32(&runs) < 1 {
		t.Fatalf("expected at least one scheduled run")
	}
	if err := r.Schedule(ctx, "bogus", dir, nil); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}
