package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
	"github.com/Lllllllleong/pdfwordflow/internal/services"
)

var (
	converterInstance *services.ConverterFunction
	once              sync.Once
	initErr           error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	functions.CloudEvent("ConvertOnUpload", convertOnUpload)
}

// main is required by the Go Functions Framework.
func main() {}

// convertOnUpload handles a Cloud Storage "object finalized" event.
func convertOnUpload(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		converterInstance, initErr = services.NewConverter(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	// Returning the error marks the invocation as failed so the event is retried.
	return converterInstance.ProcessEvent(ctx, gcsEvent)
}
