// Package conversion runs the PDF-to-Word pipeline behind a linear state
// machine: idle → reading → ai_processing → generating_word → completed,
// with error reachable from every running phase and an explicit reset back
// to idle from the terminal phases.
package conversion

import (
	"context"
	"log/slog"
	"mime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Lllllllleong/pdfwordflow/internal/docx"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

// PDFMediaType is the only media type accepted at intake.
const PDFMediaType = "application/pdf"

// Extractor turns PDF bytes into ordered pages, reporting per-page progress.
type Extractor interface {
	Extract(ctx context.Context, data []byte, progress func(percent int)) ([]models.ExtractedPage, error)
}

// Reformatter restructures the extracted pages into one text.
type Reformatter interface {
	Reformat(ctx context.Context, pages []models.ExtractedPage) (string, error)
}

// Assembler encodes reformatted text as a Word document.
type Assembler interface {
	Assemble(ctx context.Context, title, text string) ([]byte, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte, progress func(percent int)) ([]models.ExtractedPage, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte, progress func(percent int)) ([]models.ExtractedPage, error) {
	return f(ctx, data, progress)
}

// ReformatterFunc adapts a function to Reformatter.
type ReformatterFunc func(ctx context.Context, pages []models.ExtractedPage) (string, error)

func (f ReformatterFunc) Reformat(ctx context.Context, pages []models.ExtractedPage) (string, error) {
	return f(ctx, pages)
}

// AssemblerFunc adapts a function to Assembler.
type AssemblerFunc func(ctx context.Context, title, text string) ([]byte, error)

func (f AssemblerFunc) Assemble(ctx context.Context, title, text string) ([]byte, error) {
	return f(ctx, title, text)
}

// Pipeline groups the three stage capabilities.
type Pipeline struct {
	Extractor   Extractor
	Reformatter Reformatter
	Assembler   Assembler
}

// Observer receives every state change of a session, in order.
type Observer func(models.ConversionState)

// IsPDF reports whether a declared media type names a PDF document.
func IsPDF(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return mt == PDFMediaType
}

// Session holds one user's file, conversion state and result document.
// Only one run may be in flight at a time.
type Session struct {
	ID string

	pipeline Pipeline
	logger   *slog.Logger

	mu        sync.Mutex
	observers []Observer
	file      *models.SourceFile
	state     models.ConversionState
	result    *models.ResultDocument
	running   bool
}

// NewSession returns an idle session.
func NewSession(pipeline Pipeline, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	return &Session{
		ID:       id,
		pipeline: pipeline,
		logger:   logger.With("sessionId", id),
		state:    idleState(MessageReady),
	}
}

// Observe registers an observer for subsequent state changes.
func (s *Session) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// State returns the current conversion state.
func (s *Session) State() models.ConversionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the document of the last successful run, or nil.
func (s *Session) Result() *models.ResultDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// File returns the loaded source file, or nil.
func (s *Session) File() *models.SourceFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file
}

// Load accepts a source file. Files whose declared media type is not PDF are
// rejected with ErrInvalidInput and leave the session untouched.
func (s *Session) Load(file models.SourceFile) error {
	if !IsPDF(file.MediaType) {
		s.logger.Warn("Rejected non-PDF file.", "file", file.Name, "mediaType", file.MediaType)
		return ErrInvalidInput
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.file = &file
	s.result = nil
	s.mu.Unlock()

	s.logger.Info("File loaded.", "file", file.Name, "bytes", len(file.Content))
	s.set(idleState(MessageFileLoaded))
	return nil
}

// Reset discards the file and result and returns the session to idle.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrBusy
	}
	s.file = nil
	s.result = nil
	s.mu.Unlock()

	s.set(idleState(MessageReady))
	return nil
}

// Start runs extraction, reformatting and assembly to completion. A session in
// a terminal phase is reset first, keeping the loaded file. Failures move the
// session to the error phase and are returned as *StageError.
func (s *Session) Start(ctx context.Context) (*models.ResultDocument, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	if s.file == nil {
		s.mu.Unlock()
		return nil, ErrNoFile
	}
	s.running = true
	file := *s.file
	terminal := s.state.Phase.Terminal()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if terminal {
		s.mu.Lock()
		s.result = nil
		s.mu.Unlock()
		s.transition(idleState(MessageFileLoaded))
	}

	logCtx := s.logger.With("file", file.Name)
	logCtx.Info("Starting conversion.")

	// --- 1. Extract text ---
	s.transition(models.ConversionState{Phase: models.PhaseReading, Message: MessageReading})
	pages, err := s.pipeline.Extractor.Extract(ctx, file.Content, func(percent int) {
		s.advance(readingProgress(percent))
	})
	if err != nil {
		return nil, s.fail(logCtx, StageExtraction, err)
	}
	logCtx.Info("Text extracted.", "pageCount", len(pages))

	// --- 2. Reformat with the model ---
	if err := ctx.Err(); err != nil {
		return nil, s.fail(logCtx, StageReformatting, err)
	}
	s.transition(models.ConversionState{Phase: models.PhaseAIProcessing, Message: MessageAIProcessing, Progress: aiProcessingMark})
	text, err := s.pipeline.Reformatter.Reformat(ctx, pages)
	if err != nil {
		return nil, s.fail(logCtx, StageReformatting, err)
	}
	logCtx.Info("Text reformatted.", "chars", len(text))

	// --- 3. Assemble the Word document ---
	if err := ctx.Err(); err != nil {
		return nil, s.fail(logCtx, StageAssembly, err)
	}
	s.transition(models.ConversionState{Phase: models.PhaseGeneratingWord, Message: MessageGeneratingWord, Progress: generatingWordMark})
	fileName := docx.FileName(file.Name)
	content, err := s.pipeline.Assembler.Assemble(ctx, strings.TrimSuffix(fileName, ".docx"), text)
	if err != nil {
		return nil, s.fail(logCtx, StageAssembly, err)
	}

	result := &models.ResultDocument{
		FileName:        fileName,
		ContentType:     docx.ContentType,
		Content:         content,
		PageCount:       len(pages),
		ReformattedText: text,
	}
	s.mu.Lock()
	s.result = result
	s.mu.Unlock()

	s.transition(models.ConversionState{Phase: models.PhaseCompleted, Message: MessageCompleted, Progress: completedMark})
	logCtx.Info("Conversion complete.", "resultFile", fileName, "bytes", len(content))
	return result, nil
}

func (s *Session) fail(logCtx *slog.Logger, stage Stage, err error) error {
	logCtx.Error("Conversion failed.", "stage", string(stage), "error", err)
	s.transition(models.ConversionState{
		Phase:       models.PhaseError,
		Message:     ErrorMessage(stage),
		FailedStage: string(stage),
	})
	return &StageError{Stage: stage, Err: err}
}

// transition moves to a new phase if the state machine allows it.
func (s *Session) transition(next models.ConversionState) {
	s.mu.Lock()
	from := s.state.Phase
	s.mu.Unlock()
	if !CanTransition(from, next.Phase) {
		s.logger.Error("Illegal state transition ignored.", "from", string(from), "to", string(next.Phase))
		return
	}
	s.set(next)
}

// advance raises progress within the reading phase; lower values are ignored.
func (s *Session) advance(progress int) {
	s.mu.Lock()
	if s.state.Phase != models.PhaseReading || progress <= s.state.Progress {
		s.mu.Unlock()
		return
	}
	next := s.state
	next.Progress = progress
	s.mu.Unlock()
	s.set(next)
}

func (s *Session) set(next models.ConversionState) {
	s.mu.Lock()
	s.state = next
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	for _, o := range observers {
		o(next)
	}
}
