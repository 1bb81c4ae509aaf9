package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Lllllllleong/pdfwordflow/internal/conversion"
	"github.com/Lllllllleong/pdfwordflow/internal/docx"
	"github.com/Lllllllleong/pdfwordflow/internal/gcp"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
	"github.com/Lllllllleong/pdfwordflow/internal/pdftext"
	"github.com/Lllllllleong/pdfwordflow/internal/reformat"
)

const (
	// TextContentType is the content type of the stored reformatted text.
	TextContentType = "text/plain; charset=utf-8"

	reformattedTextObject = "reformatted.txt"
	// mirrorStep is the minimum progress change written to Firestore within one phase.
	mirrorStep = 10
)

// MessageStoreFailed is the job message when the result could not be persisted.
const MessageStoreFailed = "Conversion failed: the Word file could not be stored."

// ObjectStore is the blob storage used for uploads and results.
type ObjectStore interface {
	Read(ctx context.Context, bucket, object string) ([]byte, string, error)
	Save(ctx context.Context, bucket, object, contentType string, content []byte) error
	SignedURL(bucket, object, fileName string, ttl time.Duration) (string, error)
}

// JobStore persists conversion jobs.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) (string, error)
	FindCompleted(ctx context.Context, fileHash string) (*models.Job, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	SaveState(ctx context.Context, id string, state models.ConversionState, errDetails string) error
	SetResult(ctx context.Context, id string, result models.JobResult) error
}

// Notifier is told about every completed conversion.
type Notifier interface {
	Notify(ctx context.Context, event models.ConversionCompletedEvent) error
}

// NewPipeline wires the production extraction, reformatting and assembly stages.
func NewPipeline(gen reformat.Generator, config reformat.Config, logger *slog.Logger) conversion.Pipeline {
	return conversion.Pipeline{
		Extractor:   pdftext.NewExtractor(logger),
		Reformatter: reformat.New(gen, config, logger),
		Assembler:   &docx.Assembler{},
	}
}

// Outcome is the result of converting one upload.
type Outcome struct {
	JobID    string
	Document *models.ResultDocument
	// Duplicate is set when the document was served from an earlier job with the same content.
	Duplicate bool
}

// ConverterFunction holds dependencies for the conversion logic.
type ConverterFunction struct {
	objects  ObjectStore
	jobs     JobStore
	notifier Notifier
	pipeline conversion.Pipeline
	config   ConverterConfig
}

// NewConverter creates a ConverterFunction backed by Cloud Storage, Firestore,
// Vertex AI and, when configured, Cloud Workflows.
func NewConverter(ctx context.Context) (*ConverterFunction, error) {
	config, err := loadConverterConfig()
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
	generator, err := gcp.NewGeminiGenerator(ctx, gcp.GeminiConfig{
		ProjectID:    config.ProjectID,
		Region:       config.VertexAIRegion,
		Model:        config.GeminiModel,
		SystemPrompt: reformat.SystemPrompt,
		Temperature:  config.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini generator: %w", err)
	}

	var notifier Notifier
	if config.WorkflowID != "" {
		notifier, err = gcp.NewWorkflowNotifier(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			return nil, err
		}
	}

	f := newConverterFunction(
		objects,
		gcp.NewJobStore(firestoreClient, config.CollectionName),
		notifier,
		NewPipeline(generator, config.Reformat, slog.Default()),
		config,
	)
	slog.Info("Converter logic initialized.", "model", config.GeminiModel, "resultsBucket", config.ResultsBucket, "workflowId", config.WorkflowID)
	return f, nil
}

func newConverterFunction(objects ObjectStore, jobs JobStore, notifier Notifier, pipeline conversion.Pipeline, config ConverterConfig) *ConverterFunction {
	return &ConverterFunction{
		objects:  objects,
		jobs:     jobs,
		notifier: notifier,
		pipeline: pipeline,
		config:   config,
	}
}

// ProcessUpload converts one PDF and stores the result. Non-PDF files are
// rejected with conversion.ErrInvalidInput before any job is created.
func (f *ConverterFunction) ProcessUpload(ctx context.Context, file models.SourceFile, source string) (*Outcome, error) {
	logCtx := slog.With("file", file.Name, "source", source)

	session := conversion.NewSession(f.pipeline, logCtx)
	if err := session.Load(file); err != nil {
		return nil, err
	}

	// --- 1. Serve duplicates from the stored result ---
	fileHash := calculateFileHash(file.Content)
	logCtx = logCtx.With("fileHash", fileHash)
	if outcome := f.findDuplicate(ctx, logCtx, fileHash, file.Name); outcome != nil {
		return outcome, nil
	}

	// --- 2. Record the job ---
	job := &models.Job{
		FileHash:         fileHash,
		OriginalFilename: file.Name,
		Source:           source,
		Status:           models.PhaseIdle,
		Message:          conversion.MessageFileLoaded,
	}
	jobID, err := f.jobs.Create(ctx, job)
	if err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", jobID, "sessionId", session.ID)
	logCtx.Info("Created job in Firestore.")

	// --- 3. Run the pipeline, mirroring progress onto the job ---
	session.Observe(f.mirrorState(ctx, logCtx, jobID))
	result, err := session.Start(ctx)
	if err != nil {
		return nil, f.handleError(ctx, logCtx, jobID, session.State(), "conversion failed", err)
	}

	// --- 4. Persist the document and the reformatted text ---
	stored, err := f.persist(ctx, jobID, result)
	if err != nil {
		failed := models.ConversionState{Phase: models.PhaseError, Message: MessageStoreFailed}
		return nil, f.handleError(ctx, logCtx, jobID, failed, "failed to store result", err)
	}
	if err := f.jobs.SetResult(ctx, jobID, stored); err != nil {
		logCtx.Error("Failed to record result location", "error", err)
		return nil, err
	}
	if err := f.jobs.SaveState(ctx, jobID, session.State(), ""); err != nil {
		logCtx.Warn("Failed to mirror final state", "error", err)
	}

	// --- 5. Hand off to the completion workflow ---
	if f.notifier != nil {
		event := models.ConversionCompletedEvent{
			JobID:        jobID,
			FileName:     stored.FileName,
			ResultGCSUri: stored.ResultGCSUri,
			TextGCSUri:   stored.TextGCSUri,
			PageCount:    stored.PageCount,
		}
		if err := f.notifier.Notify(ctx, event); err != nil {
			logCtx.Warn("Completion hand-off failed", "error", err)
		}
	}

	logCtx.Info("Conversion stored.", "resultGcsUri", stored.ResultGCSUri, "pageCount", stored.PageCount)
	return &Outcome{JobID: jobID, Document: result}, nil
}

// ProcessEvent converts a PDF uploaded to Cloud Storage. Objects that are not
// PDFs are skipped without error so the event is not redelivered.
func (f *ConverterFunction) ProcessEvent(ctx context.Context, e models.GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	logCtx.Info("Processing new GCS object.")

	if e.ContentType != "" && !conversion.IsPDF(e.ContentType) {
		logCtx.Info("Object is not a PDF. Skipping.", "contentType", e.ContentType)
		return nil
	}

	content, contentType, err := f.objects.Read(ctx, e.Bucket, e.Name)
	if err != nil {
		logCtx.Error("Failed to download source PDF", "error", err)
		return err
	}
	if e.ContentType != "" {
		contentType = e.ContentType
	}

	file := models.SourceFile{Name: path.Base(e.Name), MediaType: contentType, Content: content}
	outcome, err := f.ProcessUpload(ctx, file, gcp.GCSUri(e.Bucket, e.Name))
	if errors.Is(err, conversion.ErrInvalidInput) {
		logCtx.Info("Object is not a PDF. Skipping.", "contentType", contentType)
		return nil
	}
	if err != nil {
		return err
	}

	logCtx.Info("GCS object converted.", "jobId", outcome.JobID, "duplicate", outcome.Duplicate)
	return nil
}

// findDuplicate serves the stored document of an earlier job with the same content,
// named after the file being uploaded now.
func (f *ConverterFunction) findDuplicate(ctx context.Context, logCtx *slog.Logger, fileHash, fileName string) *Outcome {
	existing, err := f.jobs.FindCompleted(ctx, fileHash)
	if err != nil {
		logCtx.Warn("Failed to check for duplicate. Converting anyway.", "error", err)
		return nil
	}
	if existing == nil || existing.ResultGCSUri == "" {
		return nil
	}

	bucket, object, err := gcp.ParseGCSUri(existing.ResultGCSUri)
	if err != nil {
		logCtx.Warn("Duplicate job has an invalid result URI. Converting anyway.", "existingJobId", existing.ID, "error", err)
		return nil
	}
	content, _, err := f.objects.Read(ctx, bucket, object)
	if err != nil {
		logCtx.Warn("Failed to read duplicate result. Converting anyway.", "existingJobId", existing.ID, "error", err)
		return nil
	}

	logCtx.Info("Duplicate file detected. Serving stored result.", "existingJobId", existing.ID)
	return &Outcome{
		JobID: existing.ID,
		Document: &models.ResultDocument{
			FileName:    docx.FileName(fileName),
			ContentType: docx.ContentType,
			Content:     content,
			PageCount:   existing.PageCount,
		},
		Duplicate: true,
	}
}

func (f *ConverterFunction) persist(ctx context.Context, jobID string, result *models.ResultDocument) (models.JobResult, error) {
	bucket := f.config.ResultsBucket
	resultObject := fmt.Sprintf("%s/%s", jobID, result.FileName)
	textObject := fmt.Sprintf("%s/%s", jobID, reformattedTextObject)

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return f.objects.Save(gctx, bucket, resultObject, result.ContentType, result.Content)
	})
	eg.Go(func() error {
		return f.objects.Save(gctx, bucket, textObject, TextContentType, []byte(result.ReformattedText))
	})
	if err := eg.Wait(); err != nil {
		return models.JobResult{}, err
	}

	return models.JobResult{
		FileName:     result.FileName,
		ResultGCSUri: gcp.GCSUri(bucket, resultObject),
		TextGCSUri:   gcp.GCSUri(bucket, textObject),
		PageCount:    result.PageCount,
	}, nil
}

// mirrorState writes running states to the job: every phase change and progress
// steps of at least mirrorStep. Terminal states are written by ProcessUpload.
func (f *ConverterFunction) mirrorState(ctx context.Context, logCtx *slog.Logger, jobID string) conversion.Observer {
	var last *models.ConversionState
	return func(state models.ConversionState) {
		if !state.Phase.Running() {
			return
		}
		if last != nil && last.Phase == state.Phase && state.Progress-last.Progress < mirrorStep {
			return
		}
		if err := f.jobs.SaveState(ctx, jobID, state, ""); err != nil {
			logCtx.Warn("Failed to mirror conversion state", "error", err, "phase", string(state.Phase))
			return
		}
		last = &state
	}
}

func (f *ConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, jobID string, state models.ConversionState, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	// The job is marked failed even when the request context is gone.
	ctx = context.WithoutCancel(ctx)
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	if err := f.jobs.SaveState(ctx, jobID, state, fullError); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func calculateFileHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
