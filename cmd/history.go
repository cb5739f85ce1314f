package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/kayz/sdxlprompt/internal/persist"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyID     string
	historySearch string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		dbPath := cfg.Resolve(cfg.History.SQLitePath)
		if _, err := os.Stat(dbPath); err != nil {
			return fmt.Errorf("no history at %s", dbPath)
		}

		store, err := persist.NewStore(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		w := cmd.OutOrStdout()
		if historyID != "" {
			g, err := store.GetGeneration(historyID)
			if errors.Is(err, persist.ErrNotFound) {
				return fmt.Errorf("no generation with id %s", historyID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id:        %s\n", g.ID)
			fmt.Fprintf(w, "created:   %s\n", g.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(w, "backend:   %s / %s\n", g.Provider, g.Model)
			if g.Preset != "" {
				fmt.Fprintf(w, "preset:    %s\n", g.Preset)
			}
			fmt.Fprintf(w, "tokens:    %d/%d (%s)\n", g.TokenCost, g.MaxTokens, g.Branch)
			fmt.Fprintf(w, "idea:      %s\n", g.Idea)
			fmt.Fprintf(w, "raw:       %s\n", g.RawOutput)
			fmt.Fprintf(w, "prompt:    %s\n", g.FinalPrompt)
			return nil
		}

		var gens []*persist.Generation
		if historySearch != "" {
			gens, err = store.SearchGenerations(historySearch, historyLimit)
		} else {
			gens, err = store.RecentGenerations(historyLimit)
		}
		if err != nil {
			return err
		}
		if len(gens) == 0 {
			fmt.Fprintln(w, "No generations recorded.")
			return nil
		}

		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tCREATED\tTOKENS\tBRANCH\tIDEA")
		for _, g := range gens {
			flags := ""
			if g.IdeaTruncated {
				flags = " (idea cut)"
			} else if g.NegativesDropped {
				flags = " (no negatives)"
			}
			fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s%s\t%s\n",
				g.ID[:8], g.CreatedAt.Local().Format("01-02 15:04"), g.TokenCost, g.MaxTokens,
				g.Branch, flags, truncateForDisplay(g.Idea, 48))
		}
		return tw.Flush()
	},
}

func truncateForDisplay(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-3]) + "..."
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of generations to list")
	historyCmd.Flags().StringVar(&historyID, "id", "", "Show one generation in full")
	historyCmd.Flags().StringVar(&historySearch, "search", "", "Only generations whose idea or prompt contains this text")
	rootCmd.AddCommand(historyCmd)
}
