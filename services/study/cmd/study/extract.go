package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"studydeck/services/study/internal/app"
)

func extractCmd() *cobra.Command {
	var command string
	var stats bool
	cmd := &cobra.Command{
		Use:   "extract <file.pdf>",
		Short: "Print the text the server would extract from a PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read pdf: %w", err)
			}
			out, err := app.NewPDFExtractor(command).Extract(cmd.Context(), data)
			if err != nil {
				return err
			}
			if stats {
				fmt.Fprintf(cmd.ErrOrStderr(), "pages=%d method=%s\n", out.PageCount, out.Method)
			}
			fmt.Fprintln(cmd.OutOrStdout(), out.Text)
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "pdftotext", "pdftotext", "pdftotext binary; empty uses the Go reader only")
	cmd.Flags().BoolVar(&stats, "stats", false, "print page count and extraction method to stderr")
	return cmd
}
