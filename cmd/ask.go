package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/verity0/verity/internal/app"
	"github.com/verity0/verity/internal/config"
	"github.com/verity0/verity/internal/pipeline"
)

var askShowSources bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a single question from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAsk(strings.Join(args, " "))
	},
}

func init() {
	askCmd.Flags().BoolVar(&askShowSources, "sources", false, "print the cited sources after the answer")
	rootCmd.AddCommand(askCmd)
}

func runAsk(question string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(false)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	// Tokens print as they arrive; a validation retry reprints the final
	// text afterwards.
	streamed := false
	events := &pipeline.Events{
		OnToken: func(_ context.Context, text string) error {
			streamed = true
			fmt.Print(text)
			return nil
		},
	}

	result, err := a.Pipeline.Answer(ctx, pipeline.Request{Query: question}, events)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}
	fmt.Println()

	if result.Answer.ValidationRetries > 0 && streamed {
		fmt.Println("\n--- revised answer ---")
		fmt.Println(result.Answer.Text)
	}

	if askShowSources && len(result.Answer.Sources) > 0 {
		fmt.Fprintln(os.Stdout)
		for i, src := range result.Answer.Sources {
			fmt.Printf("[S%d] %s: %s\n", i+1, src.ID, src.Snippet)
		}
	}
	return nil
}
