package gcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

// ErrJobNotFound is returned by JobStore.Get for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// JobStore keeps one Firestore document per conversion job.
type JobStore struct {
	client     *firestore.Client
	collection string
}

// NewJobStore wraps a Firestore client for the given collection.
func NewJobStore(client *firestore.Client, collection string) *JobStore {
	return &JobStore{client: client, collection: collection}
}

// Create adds a job and returns its generated id.
func (s *JobStore) Create(ctx context.Context, job *models.Job) (string, error) {
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	docRef, _, err := s.client.Collection(s.collection).Add(ctx, job)
	if err != nil {
		return "", fmt.Errorf("failed to create job document: %w", err)
	}
	job.ID = docRef.ID
	return docRef.ID, nil
}

// FindCompleted returns a completed job for the same file hash, or nil.
func (s *JobStore) FindCompleted(ctx context.Context, fileHash string) (*models.Job, error) {
	it := s.client.Collection(s.collection).
		Where("fileHash", "==", fileHash).
		Where("status", "==", string(models.PhaseCompleted)).
		Limit(1).
		Documents(ctx)
	defer it.Stop()

	snap, err := it.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query for duplicates: %w", err)
	}

	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", snap.Ref.ID, err)
	}
	job.ID = snap.Ref.ID
	return &job, nil
}

// Get loads a job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	snap, err := s.client.Collection(s.collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var job models.Job
	if err := snap.DataTo(&job); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	job.ID = id
	return &job, nil
}

// SaveState mirrors a conversion state onto the job. errDetails is only written when set.
func (s *JobStore) SaveState(ctx context.Context, id string, state models.ConversionState, errDetails string) error {
	updates := []firestore.Update{
		{Path: "status", Value: string(state.Phase)},
		{Path: "message", Value: state.Message},
		{Path: "progress", Value: state.Progress},
		{Path: "failedStage", Value: state.FailedStage},
		{Path: "updatedAt", Value: time.Now()},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

// SetResult records where the finished document and text were stored.
func (s *JobStore) SetResult(ctx context.Context, id string, result models.JobResult) error {
	updates := []firestore.Update{
		{Path: "resultFileName", Value: result.FileName},
		{Path: "resultGcsUri", Value: result.ResultGCSUri},
		{Path: "textGcsUri", Value: result.TextGCSUri},
		{Path: "pageCount", Value: result.PageCount},
		{Path: "updatedAt", Value: time.Now()},
	}
	if _, err := s.client.Collection(s.collection).Doc(id).Update(ctx, updates); err != nil {
		return fmt.Errorf("failed to record result for job %s: %w", id, err)
	}
	return nil
}
