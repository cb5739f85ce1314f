package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/kayz/sdxlprompt/internal/promptfile"
	"github.com/kayz/sdxlprompt/internal/reconcile"
	"github.com/spf13/cobra"
)

var (
	reconcileIdea            string
	reconcileIdeaFile        string
	reconcileModelOutput     string
	reconcileModelOutputFile string
	reconcileMaxTokens       int
	reconcileCounter         string
	reconcileJSON            bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Fit an idea and existing model output into the token budget, without calling an LLM",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		promptsDir := cfg.Resolve(cfg.Paths.PromptsDir)

		idea, err := promptfile.ReadIdea(reconcileIdea, reconcileIdeaFile, promptsDir)
		if err != nil {
			return err
		}
		modelText := reconcile.Normalize(reconcileModelOutput)
		if modelText == "" && reconcileModelOutputFile != "" {
			modelText, err = promptfile.ReadPrompt(reconcileModelOutputFile, promptsDir)
			if err != nil {
				return err
			}
		}
		if modelText == "" {
			return fmt.Errorf("no model output provided; use --model-output or --model-output-file")
		}

		counterName := cfg.Prompt.Counter
		if reconcileCounter != "" {
			counterName = reconcileCounter
		}
		counter, err := reconcile.NewCounter(counterName, cfg.Prompt.Encoding)
		if err != nil {
			return err
		}
		maxTokens := cfg.Prompt.MaxTokens
		if reconcileMaxTokens > 0 {
			maxTokens = reconcileMaxTokens
		}

		r := reconcile.New(reconcile.Options{
			MaxTokens: maxTokens,
			Marker:    cfg.Prompt.Marker,
			Negative:  reconcile.Tokens(cfg.Prompt.NegativeBlock),
			Counter:   counter,
		})
		res := r.EnforceTokenCap(idea, modelText)

		if !reconcileJSON {
			fmt.Fprintln(cmd.OutOrStdout(), res.Prompt)
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"prompt":            res.Prompt,
			"cost":              res.Cost,
			"max_tokens":        r.MaxTokens(),
			"counter":           counter.Name(),
			"branch":            res.Branch,
			"idea_truncated":    res.IdeaTruncated,
			"body_truncated":    res.BodyTruncated,
			"negatives_trimmed": res.NegativesTrimmed,
			"negatives_dropped": res.NegativesDropped,
		})
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileIdea, "idea", "", "Short idea text")
	reconcileCmd.Flags().StringVar(&reconcileIdeaFile, "idea-file", "", "File containing the idea")
	reconcileCmd.Flags().StringVar(&reconcileModelOutput, "model-output", "", "Raw LLM output to reconcile")
	reconcileCmd.Flags().StringVar(&reconcileModelOutputFile, "model-output-file", "", "File containing raw LLM output")
	reconcileCmd.Flags().IntVar(&reconcileMaxTokens, "max-tokens", 0, "Token budget (default: prompt.max_tokens)")
	reconcileCmd.Flags().StringVar(&reconcileCounter, "counter", "", "Token counter: word or tiktoken")
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "Print the result with its accounting as JSON")
	rootCmd.AddCommand(reconcileCmd)
}
