// Package batch builds prompts for every idea file in a directory.
package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/kayz/sdxlprompt/internal/promptbuild"
	"github.com/kayz/sdxlprompt/internal/promptfile"
)

const (
	ideaExt   = ".txt"
	promptExt = ".prompt.txt"
)

// PromptBuilder is the part of promptbuild.Builder a batch needs.
type PromptBuilder interface {
	Build(ctx context.Context, req promptbuild.BuildRequest) (*promptbuild.BuildResult, error)
}

type Options struct {
	// OutDir receives <name>.prompt.txt files. Empty writes next to the ideas.
	OutDir string
	// Concurrency caps in-flight builds; values below 1 mean 1.
	Concurrency int
	// Interval and Burst throttle builds; a zero Interval disables throttling.
	Interval time.Duration
	Burst    int

	Preset    string
	MaxTokens int
	NoCache   bool
}

// Failure is one idea file that did not produce a prompt.
type Failure struct {
	File string
	Err  error
}

// Report summarizes one Run.
type Report struct {
	Total     int
	Succeeded int
	Outputs   []string
	Failures  []Failure
}

type Runner struct {
	builder PromptBuilder
	opts    Options
}

func NewRunner(b PromptBuilder, opts Options) *Runner {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Burst < 1 {
		opts.Burst = 2
	}
	return &Runner{builder: b, opts: opts}
}

// Run builds a prompt for every *.txt idea in dir. A failing file is logged
// and reported; only listing errors and cancellation fail the run.
func (r *Runner) Run(ctx context.Context, dir string) (*Report, error) {
	files, err := ideaFiles(dir)
	if err != nil {
		return nil, err
	}
	outDir := r.opts.OutDir
	if outDir == "" {
		outDir = dir
	}

	report := &Report{Total: len(files)}
	if len(files) == 0 {
		logger.Warn("no idea files in %s", dir)
		return report, nil
	}

	var limiter *rate.Limiter
	if r.opts.Interval > 0 {
		limiter = rate.NewLimiter(rate.Every(r.opts.Interval), r.opts.Burst)
	}

	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.Concurrency)

	for _, file := range files {
		file := file
		eg.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(egCtx); err != nil {
					return err
				}
			}
			out, err := r.buildOne(egCtx, file, outDir)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				logger.Error("batch %s: %v", filepath.Base(file), err)
				report.Failures = append(report.Failures, Failure{File: file, Err: err})
				return nil
			}
			report.Succeeded++
			report.Outputs = append(report.Outputs, out)
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return report, err
	}
	sort.Strings(report.Outputs)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].File < report.Failures[j].File })
	logger.Info("batch done: %d/%d prompts written to %s", report.Succeeded, report.Total, outDir)
	return report, nil
}

func (r *Runner) buildOne(ctx context.Context, file, outDir string) (string, error) {
	idea, err := promptfile.ReadIdea("", file, "")
	if err != nil {
		return "", err
	}
	res, err := r.builder.Build(ctx, promptbuild.BuildRequest{
		Idea:      idea,
		Preset:    r.opts.Preset,
		MaxTokens: r.opts.MaxTokens,
		NoCache:   r.opts.NoCache,
	})
	if err != nil {
		return "", err
	}
	out := filepath.Join(outDir, OutputName(file))
	if err := promptfile.WriteText(out, res.Prompt+"\n"); err != nil {
		return "", err
	}
	logger.Debug("batch %s -> %s (%s, %d tokens)", filepath.Base(file), out, res.Reconcile.Branch, res.Reconcile.Cost)
	return out, nil
}

// OutputName maps idea.txt to idea.prompt.txt.
func OutputName(ideaFile string) string {
	return strings.TrimSuffix(filepath.Base(ideaFile), ideaExt) + promptExt
}

// ideaFiles lists *.txt files in dir, skipping generated *.prompt.txt.
func ideaFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list idea dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ideaExt) || strings.HasSuffix(name, promptExt) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}
