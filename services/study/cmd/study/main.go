package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "1.0.0"

func main() {
	// environment already set wins over .env
	_ = godotenv.Load()

	var configPath string
	rootCmd := &cobra.Command{
		Use:           "study",
		Short:         "StudyDeck API: summaries, flashcards and quizzes from uploaded notes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default $STUDY_CONFIG or ./config.yaml)")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(extractCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
