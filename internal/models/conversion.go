package models

// Phase is the tag of a ConversionState.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseReading        Phase = "reading"
	PhaseAIProcessing   Phase = "ai_processing"
	PhaseGeneratingWord Phase = "generating_word"
	PhaseCompleted      Phase = "completed"
	PhaseError          Phase = "error"
)

// Terminal reports whether the only way out of p is an explicit reset.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseError
}

// Running reports whether a pipeline stage is executing in phase p.
func (p Phase) Running() bool {
	return p == PhaseReading || p == PhaseAIProcessing || p == PhaseGeneratingWord
}

// ConversionState is the progress record shown to the user.
// FailedStage is only set in PhaseError.
type ConversionState struct {
	Phase       Phase  `json:"phase"`
	Message     string `json:"message"`
	Progress    int    `json:"progress"`
	FailedStage string `json:"failedStage,omitempty"`
}

// SourceFile is the PDF the user selected, held in memory.
type SourceFile struct {
	Name      string
	MediaType string
	Content   []byte
}

// ExtractedPage is the plain text of one PDF page.
type ExtractedPage struct {
	PageNumber int    `json:"pageNumber"`
	Text       string `json:"text"`
}

// ResultDocument is the generated Word document of a successful run.
type ResultDocument struct {
	FileName        string
	ContentType     string
	Content         []byte
	PageCount       int
	ReformattedText string
}
