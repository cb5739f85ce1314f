package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/kayz/sdxlprompt/internal/promptfile"
	"github.com/kayz/sdxlprompt/internal/render"
	"github.com/spf13/cobra"
)

var (
	renderPromptFile string
	renderOutput     string
	renderSize       string
	renderMaxTokens  int
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a prompt file to PNG through an OpenAI-compatible image endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		promptPath := renderPromptFile
		if promptPath == "" {
			promptPath = "prompt.txt"
		}
		prompt, err := promptfile.ReadPrompt(promptPath, cfg.Resolve(cfg.Paths.PromptsDir))
		if err != nil {
			return err
		}

		out := renderOutput
		if out == "" {
			out = filepath.Join(cfg.Resolve(cfg.Paths.OutputPNGDir), "out.png")
		}

		res, err := render.New(cfg.Render).Render(cmd.Context(), render.RenderRequest{
			Prompt:    prompt,
			Output:    out,
			Size:      renderSize,
			MaxTokens: renderMaxTokens,
		})
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "✅ wrote %s\n", res.Path)
		if res.Truncated {
			fmt.Fprintf(w, "⚠️ prompt truncated to %d tokens\n", res.MaxTokens)
		}
		return nil
	},
}

func init() {
	renderCmd.Flags().StringVar(&renderPromptFile, "prompt-file", "",
		"Prompt file; relative paths are also tried under paths.prompts_dir (default: prompt.txt)")
	renderCmd.Flags().StringVar(&renderOutput, "output", "",
		"Output PNG (default: <paths.output_png_dir>/out.png)")
	renderCmd.Flags().StringVar(&renderSize, "size", "", "Image size, e.g. 1024x1024 (default: render.size)")
	renderCmd.Flags().IntVar(&renderMaxTokens, "max-tokens", 0, "Render token budget (default: render.max_tokens)")
	rootCmd.AddCommand(renderCmd)
}
