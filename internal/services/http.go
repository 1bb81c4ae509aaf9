package services

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/Lllllllleong/pdfwordflow/internal/conversion"
	"github.com/Lllllllleong/pdfwordflow/internal/gcp"
	"github.com/Lllllllleong/pdfwordflow/internal/models"
)

const (
	// UploadField is the multipart form field that carries the PDF.
	UploadField = "file"
	// JobIDHeader carries the job id on conversion responses.
	JobIDHeader = "X-Job-Id"
	// DuplicateHeader is set to "true" when the result came from an earlier job.
	DuplicateHeader = "X-Duplicate"

	multipartMemory = 32 << 20
)

// ServeUpload converts a multipart PDF upload and responds with the Word document.
func (f *ConverterFunction) ServeUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, f.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "Request Entity Too Large: upload exceeds "+strconv.FormatInt(maxErr.Limit, 10)+" bytes", http.StatusRequestEntityTooLarge)
			return
		}
		slog.Warn("Could not parse multipart form", "error", err)
		http.Error(w, "Bad Request: could not parse multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile(UploadField)
	if err != nil {
		http.Error(w, "Bad Request: missing form field \""+UploadField+"\"", http.StatusBadRequest)
		return
	}
	defer part.Close()

	content, err := io.ReadAll(part)
	if err != nil {
		slog.Error("Could not read uploaded file", "error", err)
		http.Error(w, "Bad Request: could not read uploaded file", http.StatusBadRequest)
		return
	}

	file := models.SourceFile{
		Name:      header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Content:   content,
	}
	outcome, err := f.ProcessUpload(r.Context(), file, "upload")
	if err != nil {
		// The specific error is already logged inside ProcessUpload.
		code := StatusCode(err)
		http.Error(w, http.StatusText(code)+": "+errorMessage(err), code)
		return
	}

	doc := outcome.Document
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc.Content)))
	w.Header().Set(JobIDHeader, outcome.JobID)
	if outcome.Duplicate {
		w.Header().Set(DuplicateHeader, "true")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Content); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", outcome.JobID)
	}
}

// ServeStatus responds with the JSON status of the job named by the "id" query parameter.
func (f *StatusFunction) ServeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	jobID := r.URL.Query().Get("id")
	if jobID == "" {
		http.Error(w, "Bad Request: missing query parameter \"id\"", http.StatusBadRequest)
		return
	}

	res, err := f.Process(r.Context(), jobID)
	if errors.Is(err, gcp.ErrJobNotFound) {
		http.Error(w, "Not Found: unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to load job status", "error", err, "jobId", jobID)
		http.Error(w, "Internal Server Error: could not load job status", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		slog.Error("Failed to write response", "error", err, "jobId", jobID)
	}
}

// StatusCode maps a conversion error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, conversion.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, conversion.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, conversion.ErrExtraction):
		return http.StatusUnprocessableEntity
	case errors.Is(err, conversion.ErrReformatting):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the client-facing description of a failed conversion.
func errorMessage(err error) string {
	if errors.Is(err, conversion.ErrInvalidInput) {
		return conversion.ErrInvalidInput.Error()
	}
	if stage, ok := conversion.FailedStage(err); ok {
		return conversion.ErrorMessage(stage)
	}
	return "conversion failed"
}
