package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	"github.com/Lllllllleong/pdfwordflow/internal/services"
)

var (
	converterInstance *services.ConverterFunction
	once              sync.Once
	initErr           error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// "HandleConvertUpload" is the entry point name configured in GCP.
	functions.HTTP("HandleConvertUpload", handleConvertUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// handleConvertUpload converts a multipart PDF upload into a Word document.
func handleConvertUpload(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		converterInstance, initErr = services.NewConverter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	converterInstance.ServeUpload(w, r)
}
