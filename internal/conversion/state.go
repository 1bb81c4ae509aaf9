package conversion

import "github.com/Lllllllleong/pdfwordflow/internal/models"

// Progress markers. Reading is scaled into [0, readingBand] so progress
// never decreases across stages.
const (
	readingBand        = 50
	aiProcessingMark   = 50
	generatingWordMark = 90
	completedMark      = 100
)

// User-facing messages.
const (
	MessageReady          = "Ready to convert"
	MessageFileLoaded     = "File loaded"
	MessageReading        = "Reading PDF content..."
	MessageAIProcessing   = "AI is analysing and reformatting the text..."
	MessageGeneratingWord = "Generating Word file..."
	MessageCompleted      = "Conversion complete!"
)

var transitions = map[models.Phase][]models.Phase{
	models.PhaseIdle:           {models.PhaseReading},
	models.PhaseReading:        {models.PhaseAIProcessing, models.PhaseError},
	models.PhaseAIProcessing:   {models.PhaseGeneratingWord, models.PhaseError},
	models.PhaseGeneratingWord: {models.PhaseCompleted, models.PhaseError},
	models.PhaseCompleted:      {models.PhaseIdle},
	models.PhaseError:          {models.PhaseIdle},
}

// CanTransition reports whether the state machine allows moving from one phase to another.
func CanTransition(from, to models.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrorMessage is the user-facing message of a failed run.
func ErrorMessage(stage Stage) string {
	switch stage {
	case StageExtraction:
		return "Conversion failed: the PDF could not be read."
	case StageReformatting:
		return "Conversion failed: the AI could not reformat the text."
	case StageAssembly:
		return "Conversion failed: the Word file could not be generated."
	}
	return "Conversion failed."
}

func idleState(message string) models.ConversionState {
	return models.ConversionState{Phase: models.PhaseIdle, Message: message}
}

func readingProgress(percent int) int {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return percent * readingBand / 100
}
