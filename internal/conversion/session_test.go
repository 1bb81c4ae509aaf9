package conversion

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfwordflow/internal/docx"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
	"github.com/Lllllllleong/pdfwordflow/internal/reformat"
)

func pdfFile(name string) models.SourceFile {
	return models.SourceFile{Name: name, MediaType: "application/pdf", Content: []byte("%PDF-1.7")}
}

// pageExtractor returns one page per text and reports progress like the real extractor.
func pageExtractor(texts ...string) ExtractorFunc {
	return func(ctx context.Context, _ []byte, progress func(int)) ([]models.ExtractedPage, error) {
		var pages []models.ExtractedPage
		for i, text := range texts {
			pages = append(pages, models.ExtractedPage{PageNumber: i + 1, Text: text})
			progress((i + 1) * 100 / len(texts))
		}
		return pages, nil
	}
}

type recorder struct {
	mu     sync.Mutex
	states []models.ConversionState
}

func (r *recorder) observe(s models.ConversionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) phases() []models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Phase
	for _, s := range r.states {
		if len(out) == 0 || out[len(out)-1] != s.Phase {
			out = append(out, s.Phase)
		}
	}
	return out
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf"))
	assert.True(t, IsPDF("Application/PDF"))
	assert.True(t, IsPDF("application/pdf; name=report.pdf"))
	assert.False(t, IsPDF("application/octet-stream"))
	assert.False(t, IsPDF("text/plain"))
	assert.False(t, IsPDF(""))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to models.Phase
		want     bool
	}{
		{models.PhaseIdle, models.PhaseReading, true},
		{models.PhaseReading, models.PhaseAIProcessing, true},
		{models.PhaseAIProcessing, models.PhaseGeneratingWord, true},
		{models.PhaseGeneratingWord, models.PhaseCompleted, true},
		{models.PhaseReading, models.PhaseError, true},
		{models.PhaseAIProcessing, models.PhaseError, true},
		{models.PhaseGeneratingWord, models.PhaseError, true},
		{models.PhaseCompleted, models.PhaseIdle, true},
		{models.PhaseError, models.PhaseIdle, true},

		{models.PhaseIdle, models.PhaseError, false},
		{models.PhaseIdle, models.PhaseCompleted, false},
		{models.PhaseCompleted, models.PhaseError, false},
		{models.PhaseReading, models.PhaseGeneratingWord, false},
		{models.PhaseCompleted, models.PhaseReading, false},
		{models.PhaseError, models.PhaseReading, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestLoad_RejectsNonPDF(t *testing.T) {
	s := NewSession(Pipeline{}, nil)
	rec := &recorder{}
	s.Observe(rec.observe)
	before := s.State()

	err := s.Load(models.SourceFile{Name: "notes.txt", MediaType: "text/plain"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Equal(t, before, s.State())
	assert.Nil(t, s.File())
	assert.Empty(t, rec.states)
}

func TestLoad_AcceptsPDF(t *testing.T) {
	s := NewSession(Pipeline{}, nil)
	require.NoError(t, s.Load(pdfFile("a.pdf")))

	assert.Equal(t, models.ConversionState{Phase: models.PhaseIdle, Message: MessageFileLoaded}, s.State())
	require.NotNil(t, s.File())
	assert.Equal(t, "a.pdf", s.File().Name)
}

func TestStart_WithoutFile(t *testing.T) {
	s := NewSession(Pipeline{}, nil)
	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
}

func TestStart_EndToEnd(t *testing.T) {
	var prompt string
	gen := reformat.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "TITLE\nSome body text.", nil
	})

	var assembled []docx.Paragraph
	assembler := &docx.Assembler{}
	s := NewSession(Pipeline{
		Extractor:   pageExtractor("Hello", "World"),
		Reformatter: reformat.New(gen, reformat.Config{}, nil),
		Assembler: AssemblerFunc(func(ctx context.Context, title, text string) ([]byte, error) {
			assembled = docx.Paragraphs(text)
			return assembler.Assemble(ctx, title, text)
		}),
	}, nil)
	rec := &recorder{}
	s.Observe(rec.observe)

	require.NoError(t, s.Load(pdfFile("report.pdf")))
	result, err := s.Start(context.Background())
	require.NoError(t, err)

	first := strings.Index(prompt, "[Trang 1]\nHello")
	second := strings.Index(prompt, "[Trang 2]\nWorld")
	require.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)

	require.Len(t, assembled, 2)
	assert.True(t, assembled[0].Bold)
	assert.Equal(t, 1, assembled[0].HeadingLevel)
	assert.False(t, assembled[1].Bold)
	assert.Equal(t, 0, assembled[1].HeadingLevel)

	require.NotNil(t, result)
	assert.Equal(t, "report.docx", result.FileName)
	assert.Equal(t, docx.ContentType, result.ContentType)
	assert.Equal(t, 2, result.PageCount)
	assert.Equal(t, "TITLE\nSome body text.", result.ReformattedText)
	_, err = zip.NewReader(bytes.NewReader(result.Content), int64(len(result.Content)))
	assert.NoError(t, err)
	assert.Same(t, result, s.Result())

	assert.Equal(t, []models.Phase{
		models.PhaseIdle,
		models.PhaseReading,
		models.PhaseAIProcessing,
		models.PhaseGeneratingWord,
		models.PhaseCompleted,
	}, rec.phases())

	// Progress never decreases within the run.
	run := rec.states[1:]
	for i := 1; i < len(run); i++ {
		assert.GreaterOrEqual(t, run[i].Progress, run[i-1].Progress)
	}
	assert.Equal(t, models.ConversionState{Phase: models.PhaseCompleted, Message: MessageCompleted, Progress: 100}, s.State())
}

func TestStart_ReadingProgressIsScaled(t *testing.T) {
	s := NewSession(Pipeline{
		Extractor:   pageExtractor("a", "b", "c", "d"),
		Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) { return "x", nil }),
		Assembler:   AssemblerFunc(func(context.Context, string, string) ([]byte, error) { return []byte("doc"), nil }),
	}, nil)
	rec := &recorder{}
	s.Observe(rec.observe)
	require.NoError(t, s.Load(pdfFile("a.pdf")))

	_, err := s.Start(context.Background())
	require.NoError(t, err)

	var reading []int
	for _, st := range rec.states {
		if st.Phase == models.PhaseReading {
			reading = append(reading, st.Progress)
		}
	}
	assert.Equal(t, []int{0, 12, 25, 37, 50}, reading)
}

func TestStart_StageFailures(t *testing.T) {
	boom := errors.New("boom")
	okExtract := pageExtractor("page")
	okReformat := ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) { return "TEXT", nil })
	okAssemble := AssemblerFunc(func(context.Context, string, string) ([]byte, error) { return []byte("doc"), nil })

	tests := []struct {
		name     string
		pipeline Pipeline
		stage    Stage
		sentinel error
	}{
		{
			name: "extraction",
			pipeline: Pipeline{
				Extractor: ExtractorFunc(func(context.Context, []byte, func(int)) ([]models.ExtractedPage, error) {
					return nil, boom
				}),
				Reformatter: okReformat,
				Assembler:   okAssemble,
			},
			stage:    StageExtraction,
			sentinel: ErrExtraction,
		},
		{
			name: "reformatting",
			pipeline: Pipeline{
				Extractor: okExtract,
				Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) {
					return "", boom
				}),
				Assembler: okAssemble,
			},
			stage:    StageReformatting,
			sentinel: ErrReformatting,
		},
		{
			name: "assembly",
			pipeline: Pipeline{
				Extractor:   okExtract,
				Reformatter: okReformat,
				Assembler: AssemblerFunc(func(context.Context, string, string) ([]byte, error) {
					return nil, boom
				}),
			},
			stage:    StageAssembly,
			sentinel: ErrAssembly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(tt.pipeline, nil)
			require.NoError(t, s.Load(pdfFile("a.pdf")))

			result, err := s.Start(context.Background())
			assert.Nil(t, result)
			assert.ErrorIs(t, err, boom)
			assert.ErrorIs(t, err, tt.sentinel)

			stage, ok := FailedStage(err)
			require.True(t, ok)
			assert.Equal(t, tt.stage, stage)

			state := s.State()
			assert.Equal(t, models.PhaseError, state.Phase)
			assert.Equal(t, 0, state.Progress)
			assert.Equal(t, string(tt.stage), state.FailedStage)
			assert.Equal(t, ErrorMessage(tt.stage), state.Message)
			assert.Nil(t, s.Result())
		})
	}
}

func TestStart_CancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reformatCalled := false
	s := NewSession(Pipeline{
		Extractor: ExtractorFunc(func(context.Context, []byte, func(int)) ([]models.ExtractedPage, error) {
			cancel()
			return []models.ExtractedPage{{PageNumber: 1, Text: "x"}}, nil
		}),
		Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) {
			reformatCalled = true
			return "x", nil
		}),
	}, nil)
	require.NoError(t, s.Load(pdfFile("a.pdf")))

	_, err := s.Start(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ErrReformatting)
	assert.False(t, reformatCalled)
	assert.Equal(t, models.PhaseError, s.State().Phase)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	s := NewSession(Pipeline{
		Extractor: ExtractorFunc(func(context.Context, []byte, func(int)) ([]models.ExtractedPage, error) {
			close(entered)
			<-release
			return nil, nil
		}),
		Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) { return "X", nil }),
		Assembler:   AssemblerFunc(func(context.Context, string, string) ([]byte, error) { return []byte("doc"), nil }),
	}, nil)
	require.NoError(t, s.Load(pdfFile("a.pdf")))

	done := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background())
		done <- err
	}()
	<-entered

	_, err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, s.Load(pdfFile("b.pdf")), ErrBusy)
	assert.ErrorIs(t, s.Reset(), ErrBusy)

	close(release)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.Equal(t, models.PhaseCompleted, s.State().Phase)
}

func TestReset_AfterTerminalStates(t *testing.T) {
	fail := true
	s := NewSession(Pipeline{
		Extractor: pageExtractor("p"),
		Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) {
			if fail {
				return "", errors.New("model down")
			}
			return "TEXT", nil
		}),
		Assembler: AssemblerFunc(func(context.Context, string, string) ([]byte, error) { return []byte("doc"), nil }),
	}, nil)

	require.NoError(t, s.Load(pdfFile("a.pdf")))
	_, err := s.Start(context.Background())
	require.Error(t, err)
	require.Equal(t, models.PhaseError, s.State().Phase)

	require.NoError(t, s.Reset())
	assert.Equal(t, models.ConversionState{Phase: models.PhaseIdle, Message: MessageReady}, s.State())
	assert.Nil(t, s.File())

	fail = false
	require.NoError(t, s.Load(pdfFile("a.pdf")))
	_, err = s.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s.Result())

	require.NoError(t, s.Reset())
	assert.Nil(t, s.Result())
	assert.Equal(t, 0, s.State().Progress)
	assert.Equal(t, models.PhaseIdle, s.State().Phase)
}

func TestStart_FromCompletedReplacesResult(t *testing.T) {
	n := 0
	s := NewSession(Pipeline{
		Extractor: pageExtractor("p"),
		Reformatter: ReformatterFunc(func(context.Context, []models.ExtractedPage) (string, error) {
			n++
			return strings.Repeat("X", n), nil
		}),
		Assembler: AssemblerFunc(func(_ context.Context, _ string, text string) ([]byte, error) { return []byte(text), nil }),
	}, nil)
	rec := &recorder{}
	s.Observe(rec.observe)
	require.NoError(t, s.Load(pdfFile("a.pdf")))

	first, err := s.Start(context.Background())
	require.NoError(t, err)
	second, err := s.Start(context.Background())
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Same(t, second, s.Result())
	assert.Equal(t, "XX", second.ReformattedText)

	// The second run starts from a reset: idle at progress 0 after the first completion.
	var sawReset bool
	for i := 1; i < len(rec.states); i++ {
		if rec.states[i-1].Phase == models.PhaseCompleted && rec.states[i].Phase == models.PhaseIdle {
			sawReset = true
			assert.Equal(t, 0, rec.states[i].Progress)
		}
	}
	assert.True(t, sawReset)
}
