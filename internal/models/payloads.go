package models

import "time"

// These structs define the JSON payloads exchanged by the Cloud Functions
// and the completion workflow.

// GCSEvent is the data of a Cloud Storage "object finalized" CloudEvent.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// JobStatusResponse is the output of the job-status function.
type JobStatusResponse struct {
	JobID       string `json:"jobId"`
	Phase       Phase  `json:"phase"`
	Message     string `json:"message"`
	Progress    int    `json:"progress"`
	FailedStage string `json:"failedStage,omitempty"`
	PageCount   int    `json:"pageCount,omitempty"`
	FileName    string `json:"fileName,omitempty"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	// ExpiresAt is when DownloadURL stops working.
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// ConversionCompletedEvent is the argument passed to the completion workflow.
type ConversionCompletedEvent struct {
	JobID        string `json:"jobId"`
	FileName     string `json:"fileName"`
	ResultGCSUri string `json:"resultGcsUri"`
	TextGCSUri   string `json:"textGcsUri"`
	PageCount    int    `json:"pageCount"`
}
