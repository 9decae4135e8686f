// cmd/leafdoc/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/signalnine/leafdoc/internal/sandbox"
)

var (
	configPath   string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "leafdoc",
	Short: "Conversational plant diagnosis",
	Long: `leafdoc diagnoses plant problems through a conversation.

Each turn a reasoning service writes a small Go program that decides the
next step; leafdoc runs it in a sandbox and applies the single action it
returns: ask you a question, note a hypothesis, look up the plant's care
requirements, or conclude with a finding and a recommendation.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text, json or yaml")

	rootCmd.AddCommand(plantCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(replyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	// Script evaluation re-executes this binary
	sandbox.Init()

	// A missing .env file is fine
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
