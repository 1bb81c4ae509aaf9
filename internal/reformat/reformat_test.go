package reformat

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

func TestMain(m *testing.M) {
	// Override backoff to avoid real sleeps in retry tests.
	backoffBase = time.Millisecond
	os.Exit(m.Run())
}

// recordingGenerator returns scripted responses and remembers every prompt.
type recordingGenerator struct {
	responses []string
	errs      []error
	prompts   []string
}

func (g *recordingGenerator) Generate(_ context.Context, prompt string) (string, error) {
	i := len(g.prompts)
	g.prompts = append(g.prompts, prompt)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	if i < len(g.responses) {
		return g.responses[i], nil
	}
	return "", nil
}

func twoPages() []models.ExtractedPage {
	return []models.ExtractedPage{
		{PageNumber: 1, Text: "Hello"},
		{PageNumber: 2, Text: "World"},
	}
}

func TestCombinePages(t *testing.T) {
	assert.Equal(t, "[Trang 1]\nHello\n\n[Trang 2]\nWorld", CombinePages(twoPages(), ""))
	assert.Equal(t, "[Page 1]\nHello\n\n[Page 2]\nWorld", CombinePages(twoPages(), "[Page %d]"))
	assert.Equal(t, "", CombinePages(nil, ""))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"under bound", "abc", 5, "abc"},
		{"at bound", "abcde", 5, "abcde"},
		{"over bound", "abcdef", 5, "abcde"},
		{"multi-byte runes", "Tiếng Việt", 5, "Tiếng"},
		{"disabled", "abcdef", 0, "abcdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}

func TestBuildPrompt_BoundAndOrder(t *testing.T) {
	pages := []models.ExtractedPage{
		{PageNumber: 1, Text: strings.Repeat("a", 40)},
		{PageNumber: 2, Text: strings.Repeat("b", 40)},
		{PageNumber: 3, Text: strings.Repeat("c", 40)},
	}
	const bound = 100

	prompt := BuildPrompt(pages, DefaultPageMarker, bound)
	require.True(t, strings.HasPrefix(prompt, UserPrompt))

	content := strings.TrimPrefix(prompt, UserPrompt+"\n---\n")
	content = strings.TrimSuffix(content, "\n---")
	assert.LessOrEqual(t, utf8.RuneCountInString(content), bound)

	first := strings.Index(content, "[Trang 1]\n"+pages[0].Text)
	second := strings.Index(content, "[Trang 2]\n")
	require.GreaterOrEqual(t, first, 0)
	require.Greater(t, second, first)
	assert.NotContains(t, content, "[Trang 3]")
}

func TestReformat_SendsMarkedPagesInOrder(t *testing.T) {
	gen := &recordingGenerator{responses: []string{"TITLE\nSome body text."}}
	r := New(gen, Config{}, nil)

	text, err := r.Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	assert.Equal(t, "TITLE\nSome body text.", text)

	require.Len(t, gen.prompts, 1)
	prompt := gen.prompts[0]
	first := strings.Index(prompt, "[Trang 1]\nHello")
	second := strings.Index(prompt, "[Trang 2]\nWorld")
	require.GreaterOrEqual(t, first, 0)
	assert.Greater(t, second, first)
}

func TestReformat_ReturnsTextVerbatim(t *testing.T) {
	gen := &recordingGenerator{responses: []string{"  ```\nBODY\n```  \n"}}
	text, err := New(gen, Config{}, nil).Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	assert.Equal(t, "  ```\nBODY\n```  \n", text)
}

func TestReformat_RetriesTransientErrors(t *testing.T) {
	gen := &recordingGenerator{
		errs:      []error{errors.New("unavailable"), errors.New("unavailable")},
		responses: []string{"", "", "OK TEXT"},
	}
	text, err := New(gen, Config{MaxRetries: 3}, nil).Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	assert.Equal(t, "OK TEXT", text)
	assert.Len(t, gen.prompts, 3)
}

func TestReformat_ExhaustsRetries(t *testing.T) {
	boom := errors.New("unavailable")
	gen := &recordingGenerator{errs: []error{boom, boom, boom}}

	_, err := New(gen, Config{MaxRetries: 2}, nil).Reformat(context.Background(), twoPages())
	assert.ErrorIs(t, err, boom)
	// 1 initial + 2 retries.
	assert.Len(t, gen.prompts, 3)
}

func TestReformat_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("permission denied")
	gen := &recordingGenerator{errs: []error{permanent}}
	cfg := Config{MaxRetries: 3, Retryable: func(err error) bool { return !errors.Is(err, permanent) }}

	_, err := New(gen, cfg, nil).Reformat(context.Background(), twoPages())
	assert.ErrorIs(t, err, permanent)
	assert.Len(t, gen.prompts, 1)
}

func TestReformat_EmptyResponsePolicy(t *testing.T) {
	t.Run("fail by default", func(t *testing.T) {
		gen := &recordingGenerator{responses: []string{"  \n"}}
		_, err := New(gen, Config{}, nil).Reformat(context.Background(), twoPages())
		assert.ErrorIs(t, err, ErrEmptyResponse)
		assert.Len(t, gen.prompts, 1)
	})

	t.Run("fallback text", func(t *testing.T) {
		gen := &recordingGenerator{responses: []string{""}}
		text, err := New(gen, Config{EmptyResponse: EmptyResponseFallback}, nil).Reformat(context.Background(), twoPages())
		require.NoError(t, err)
		assert.Equal(t, FallbackText, text)
	})
}

func TestReformat_DocumentTextResemblingRefusal(t *testing.T) {
	letter := "LETTER OF APOLOGY\nDear committee, I am unable to attend the meeting on Monday.\nI cannot provide the figures until Friday."
	gen := &recordingGenerator{responses: []string{letter}}

	text, err := New(gen, Config{}, nil).Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	assert.Equal(t, letter, text)
}

func TestReformat_GeneratorRefusalIsNotRetried(t *testing.T) {
	refused := fmt.Errorf("%w: generation stopped", ErrRefusal)
	gen := &recordingGenerator{errs: []error{refused, nil}, responses: []string{"", "unused"}}
	notRefusal := func(err error) bool { return !errors.Is(err, ErrRefusal) }

	_, err := New(gen, Config{MaxRetries: 2, Retryable: notRefusal}, nil).Reformat(context.Background(), twoPages())
	assert.ErrorIs(t, err, ErrRefusal)
	assert.Len(t, gen.prompts, 1)
}

func TestReformat_AttemptTimeout(t *testing.T) {
	slow := GeneratorFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := New(slow, Config{Timeout: 5 * time.Millisecond, MaxRetries: 1}, nil).Reformat(context.Background(), twoPages())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReformat_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := GeneratorFunc(func(context.Context, string) (string, error) {
		cancel()
		return "", errors.New("aborted")
	})

	_, err := New(gen, Config{MaxRetries: 3}, nil).Reformat(ctx, twoPages())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReformat_RateLimited(t *testing.T) {
	gen := &recordingGenerator{responses: []string{"A", "B"}}
	r := New(gen, Config{RequestsPerMinute: 600}, nil)

	_, err := r.Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	_, err = r.Reformat(context.Background(), twoPages())
	require.NoError(t, err)
	assert.Len(t, gen.prompts, 2)
}
