package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/pdfwordflow/internal/gcp"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

// StatusFunction reports the state of conversion jobs.
type StatusFunction struct {
	objects ObjectStore
	jobs    JobStore
	config  StatusConfig
}

// NewStatus creates a StatusFunction backed by Firestore and Cloud Storage.
func NewStatus(ctx context.Context) (*StatusFunction, error) {
	config, err := loadStatusConfig()
	if err != nil {
		return nil, err
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	objects, err := gcp.NewObjectStore(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("Job status logic initialized.", "collection", config.CollectionName, "downloadUrlTtl", config.DownloadURLTTL.String())
	return newStatusFunction(objects, gcp.NewJobStore(firestoreClient, config.CollectionName), config), nil
}

func newStatusFunction(objects ObjectStore, jobs JobStore, config StatusConfig) *StatusFunction {
	if config.DownloadURLTTL <= 0 {
		config.DownloadURLTTL = defaultDownloadURLTTL
	}
	return &StatusFunction{objects: objects, jobs: jobs, config: config}
}

// Process returns the job's conversion state and, once it has completed, a
// short-lived download URL for the Word document.
func (f *StatusFunction) Process(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	logCtx := slog.With("jobId", jobID)

	job, err := f.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	state := job.State()
	resp := &models.JobStatusResponse{
		JobID:       job.ID,
		Phase:       state.Phase,
		Message:     state.Message,
		Progress:    state.Progress,
		FailedStage: state.FailedStage,
		PageCount:   job.PageCount,
		FileName:    job.ResultFileName,
	}
	if state.Phase != models.PhaseCompleted || job.ResultGCSUri == "" {
		return resp, nil
	}

	bucket, object, err := gcp.ParseGCSUri(job.ResultGCSUri)
	if err != nil {
		logCtx.Error("Job has an invalid result URI", "error", err, "resultGcsUri", job.ResultGCSUri)
		return nil, err
	}
	url, err := f.objects.SignedURL(bucket, object, job.ResultFileName, f.config.DownloadURLTTL)
	if err != nil {
		logCtx.Error("Failed to sign download URL", "error", err)
		return nil, err
	}
	resp.DownloadURL = url
	resp.ExpiresAt = time.Now().Add(f.config.DownloadURLTTL).UTC()
	return resp, nil
}
