package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexiqai/voice-transcriber/internal/observability"
	"github.com/lexiqai/voice-transcriber/internal/transcript"
)

func newExportCmd() *cobra.Command {
	var (
		input  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Convert a saved session transcript to SRT",
		RunE: func(cmd *cobra.Command, args []string) error {
			observability.InitLoggerWithWriter(os.Stderr, "info", true)
			return export(input, output, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "session transcript JSON file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "SRT file to write (default stdout)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func export(input, output string, stdout io.Writer) error {
	logger := observability.GetLogger()

	in, err := os.Open(input)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer in.Close()

	records, err := transcript.ReadJSON(in)
	if err != nil {
		return err
	}

	w := stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create %s: %w", output, err)
		}
		defer f.Close()
		w = f
	}

	if err := transcript.WriteSRT(w, records); err != nil {
		return fmt.Errorf("write SRT: %w", err)
	}

	if output != "" {
		logger.Info().Int("entries", len(records)).Str("output", output).Msg("Transcript exported")
	}
	return nil
}
