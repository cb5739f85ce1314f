package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kayz/sdxlprompt/internal/config"
	"github.com/kayz/sdxlprompt/internal/logger"
	"github.com/spf13/cobra"
)

var (
	logLevel   string
	configPath string

	appConfig *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "sdxlprompt",
	Short: "Expand short image ideas into SDXL prompts that fit the token budget",
	Long: `sdxlprompt turns a short idea into a single-line SDXL prompt.

An LLM elaborates the idea, then the result is reconciled so that the idea
leads the prompt verbatim, the whole prompt fits the CLIP budget (77 tokens
by default) and a negative segment is kept whenever there is room.

Commands:
  sdxlprompt build       Expand one idea and write the prompt
  sdxlprompt reconcile   Reconcile an idea with existing model output, offline
  sdxlprompt render      Render a prompt file to PNG
  sdxlprompt batch       Build prompts for a directory of ideas
  sdxlprompt history     Show recorded generations`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config.SetPath(configPath)
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		appConfig = cfg

		level := cfg.Logging.Level
		if cmd.Flags().Changed("log") || level == "" {
			level = logLevel
		} else if logger.DebugForced() {
			level = "debug"
		}
		parsed, err := logger.ParseLevel(level)
		if err != nil {
			return err
		}
		logger.SetLevel(parsed)
		logger.SetFormat(cfg.Logging.Format)
		if cfg.Logging.File != "" {
			c, err := logger.SetFile(cfg.Resolve(cfg.Logging.File))
			if err != nil {
				return fmt.Errorf("open log file: %w", err)
			}
			logCloser = c
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info",
		"Log level: trace, debug, info, warn, error, fatal, panic")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Config file (default: .sdxlprompt.yaml beside the executable, or $SDXLPROMPT_CONFIG)")
}

// printStatus writes one JSON status line.
func printStatus(w io.Writer, level, msg string, fields map[string]any) {
	line := map[string]any{"level": level, "msg": msg}
	for k, v := range fields {
		line[k] = v
	}
	data, _ := json.Marshal(line)
	fmt.Fprintln(w, string(data))
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printStatus(os.Stdout, "error", err.Error(), nil)
		os.Exit(1)
	}
}
