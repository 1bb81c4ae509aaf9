package models

import "time"

// Job is the Firestore record of one conversion request.
// It mirrors the session's ConversionState so status can be polled.
type Job struct {
	ID               string    `firestore:"-"`
	FileHash         string    `firestore:"fileHash,omitempty"`
	OriginalFilename string    `firestore:"originalFilename,omitempty"`
	Source           string    `firestore:"source,omitempty"`
	Status           Phase     `firestore:"status,omitempty"`
	Message          string    `firestore:"message,omitempty"`
	Progress         int       `firestore:"progress"`
	FailedStage      string    `firestore:"failedStage,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	PageCount        int       `firestore:"pageCount,omitempty"`
	ResultFileName   string    `firestore:"resultFileName,omitempty"`
	ResultGCSUri     string    `firestore:"resultGcsUri,omitempty"`
	TextGCSUri       string    `firestore:"textGcsUri,omitempty"`
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt        time.Time `firestore:"updatedAt,omitempty"`
}

// State returns the conversion state recorded on the job.
func (j *Job) State() ConversionState {
	return ConversionState{
		Phase:       j.Status,
		Message:     j.Message,
		Progress:    j.Progress,
		FailedStage: j.FailedStage,
	}
}

// JobResult locates the stored output of a completed job.
type JobResult struct {
	FileName     string
	ResultGCSUri string
	TextGCSUri   string
	PageCount    int
}
