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
	statusInstance *services.StatusFunction
	once           sync.Once
	initErr        error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.HTTP("HandleJobStatus", handleJobStatus)
}

// main is required by the Go Functions Framework.
func main() {}

func handleJobStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(func() {
		statusInstance, initErr = services.NewStatus(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "Internal Server Error: failed to initialize service", http.StatusInternalServerError)
		return
	}

	statusInstance.ServeStatus(w, r)
}
