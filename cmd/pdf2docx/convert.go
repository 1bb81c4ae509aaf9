package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Lllllllleong/pdfwordflow/internal/conversion"
	"github.com/Lllllllleong/pdfwordflow/internal/docx"
	"github.com/Lllllllleong/pdfwordflow/internal/gcp"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
	"github.com/Lllllllleong/pdfwordflow/internal/reformat"
	"github.com/Lllllllleong/pdfwordflow/internal/services"
)

var convertCmd = &cobra.Command{
	Use:   "convert <file.pdf>",
	Short: "Convert a PDF file to a Word document",
	Long: `Convert reads the PDF's text page by page, sends it to the configured
Gemini model for reformatting, and writes a .docx next to the input (or to
--output). Progress is printed to stderr.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		cfg := reformatConfig()
		gen, err := gcp.NewGeminiGenerator(ctx, gcp.GeminiConfig{
			ProjectID:    viper.GetString("project"),
			Region:       viper.GetString("region"),
			Model:        viper.GetString("model"),
			SystemPrompt: reformat.SystemPrompt,
			Temperature:  float32(viper.GetFloat64("temperature")),
		})
		if err != nil {
			return err
		}
		defer gen.Close()

		pipeline := services.NewPipeline(gen, cfg, slog.Default())
		out, err := runConvert(ctx, pipeline, args[0], viper.GetString("output"), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringP("output", "o", "", "output .docx path (default: input name with .docx extension)")
	convertCmd.Flags().String("project", "", "GCP project for Vertex AI")
	convertCmd.Flags().String("region", "us-central1", "Vertex AI region")
	convertCmd.Flags().String("model", "gemini-2.5-flash", "Gemini model name")
	convertCmd.Flags().Float64("temperature", 0.2, "model temperature")
	convertCmd.Flags().Int("max-prompt-chars", reformat.DefaultMaxChars, "maximum characters of extracted text sent to the model")
	convertCmd.Flags().String("page-marker", reformat.DefaultPageMarker, "format of the marker placed before each page")
	convertCmd.Flags().Duration("timeout", reformat.DefaultConfig().Timeout, "timeout of one model request")
	convertCmd.Flags().Int("retries", reformat.DefaultConfig().MaxRetries, "retries of failed model requests")
	convertCmd.Flags().String("empty-response", string(reformat.EmptyResponseFail), "what an empty model response means: fail or fallback")

	for _, name := range []string{"output", "project", "region", "model", "temperature", "max-prompt-chars", "page-marker", "timeout", "retries", "empty-response"} {
		_ = viper.BindPFlag(name, convertCmd.Flags().Lookup(name))
	}

	rootCmd.AddCommand(convertCmd)
}

func reformatConfig() reformat.Config {
	return reformat.Config{
		PageMarker:    viper.GetString("page-marker"),
		MaxChars:      viper.GetInt("max-prompt-chars"),
		Timeout:       viper.GetDuration("timeout"),
		MaxRetries:    viper.GetInt("retries"),
		EmptyResponse: reformat.EmptyResponsePolicy(viper.GetString("empty-response")),
		Retryable:     gcp.IsTransient,
	}
}

// runConvert converts one local PDF and returns the path of the written document.
func runConvert(ctx context.Context, pipeline conversion.Pipeline, input, output string, progress io.Writer) (string, error) {
	content, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", input, err)
	}

	session := conversion.NewSession(pipeline, slog.Default())
	session.Observe(func(state models.ConversionState) {
		if state.Phase == models.PhaseIdle {
			return
		}
		fmt.Fprintf(progress, "[%3d%%] %s\n", state.Progress, state.Message)
	})

	file := models.SourceFile{
		Name:      filepath.Base(input),
		MediaType: http.DetectContentType(content),
		Content:   content,
	}
	if err := session.Load(file); err != nil {
		return "", fmt.Errorf("%s: %w", input, err)
	}

	result, err := session.Start(ctx)
	if err != nil {
		return "", err
	}

	if output == "" {
		output = filepath.Join(filepath.Dir(input), docx.FileName(input))
	}
	if err := os.WriteFile(output, result.Content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", output, err)
	}
	return output, nil
}
