package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kayz/sdxlprompt/internal/cache"
	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/expand"
	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/kayz/sdxlprompt/internal/persist"
	"github.com/kayz/sdxlprompt/internal/promptbuild"
	"github.com/kayz/sdxlprompt/internal/promptfile"
	"github.com/spf13/cobra"
)

var (
	buildIdea      string
	buildIdeaFile  string
	buildOut       string
	buildMaxTokens int
	buildPreset    string
	buildProvider  string
	buildModel     string
	buildNoCache   bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Expand an idea with the LLM and write the reconciled prompt",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		applyLLMFlags(cfg)

		idea, err := promptfile.ReadIdea(buildIdea, buildIdeaFile, cfg.Resolve(cfg.Paths.PromptsDir))
		if err != nil {
			return err
		}

		builder, cleanup, err := newBuilder(cfg)
		if err != nil {
			return err
		}
		defer cleanup()

		res, err := builder.Build(cmd.Context(), promptbuild.BuildRequest{
			Idea:      idea,
			Preset:    buildPreset,
			MaxTokens: buildMaxTokens,
			NoCache:   buildNoCache,
		})
		if err != nil {
			return err
		}

		out := buildOut
		if out == "" {
			out = filepath.Join(cfg.Resolve(cfg.Paths.OutputPromptsDir), "prompt.txt")
		}
		if err := promptfile.WriteText(out, res.Prompt); err != nil {
			return err
		}

		fields := map[string]any{"out": out}
		if res.ID != "" {
			fields["id"] = res.ID
		}
		printStatus(cmd.OutOrStdout(), "info", "✅ SDXL prompt generated", fields)
		fmt.Fprintln(cmd.OutOrStdout(), res.Prompt)
		return nil
	},
}

func applyLLMFlags(cfg *config.Config) {
	if p := strings.TrimSpace(buildProvider); p != "" {
		cfg.SetProvider(p)
	}
	if m := strings.TrimSpace(buildModel); m != "" {
		cfg.LLM.Model = m
	}
}

// newBuilder wires the expander, cache and history store from config.
func newBuilder(cfg *config.Config) (*promptbuild.Builder, func(), error) {
	exp, err := expand.New(cfg.LLM)
	if err != nil {
		return nil, nil, err
	}

	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("close: %v", err)
			}
		}
	}

	opts := []promptbuild.Option{}
	c, err := cache.New(cfg.Cache)
	if err != nil {
		logger.Warn("expansion cache disabled: %v", err)
	} else if c != nil {
		closers = append(closers, c.Close)
		opts = append(opts, promptbuild.WithCache(c))
	}

	if cfg.History.Enabled {
		store, err := persist.NewStore(cfg.Resolve(cfg.History.SQLitePath))
		if err != nil {
			logger.Warn("history disabled: %v", err)
		} else {
			closers = append(closers, store.Close)
			opts = append(opts, promptbuild.WithStore(store))
		}
	}

	b, err := promptbuild.NewBuilder(cfg, exp, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return b, cleanup, nil
}

func init() {
	buildCmd.Flags().StringVar(&buildIdea, "idea", "", "Short idea text")
	buildCmd.Flags().StringVar(&buildIdeaFile, "idea-file", "",
		"File containing the idea; relative paths are also tried under paths.prompts_dir")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "",
		"Output file (default: <paths.output_prompts_dir>/prompt.txt)")
	buildCmd.Flags().IntVar(&buildMaxTokens, "max-tokens", 0, "Token budget (default: prompt.max_tokens)")
	buildCmd.Flags().StringVar(&buildPreset, "preset", "", "Preset name under paths.presets_dir")
	buildCmd.Flags().StringVar(&buildProvider, "provider", "", "LLM provider: ollama, openai, anthropic")
	buildCmd.Flags().StringVar(&buildModel, "model", "", "LLM model name")
	buildCmd.Flags().BoolVar(&buildNoCache, "no-cache", false, "Always call the LLM")
	rootCmd.AddCommand(buildCmd)
}
