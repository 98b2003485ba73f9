package handlers

import (
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/models"
	"github.com/markdave123-py/pdfchat/internal/services"
)

// multipart parts above this size spill to temp files.
const multipartMemory = 32 << 20

type DocumentHandler struct {
	uploads        *services.UploadService
	tracker        *services.StatusService
	maxUploadBytes int64
	validate       *validator.Validate
	logger         *log.Logger
}

func NewDocumentHandler(uploads *services.UploadService, tracker *services.StatusService, maxUploadMB int64, logger *log.Logger) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 50
	}
	return &DocumentHandler{
		uploads:        uploads,
		tracker:        tracker,
		maxUploadBytes: maxUploadMB << 20,
		validate:       validator.New(),
		logger:         logger,
	}
}

type uploadBatchResponse struct {
	Message string   `json:"message"`
	Count   int      `json:"count"`
	JobIDs  []string `json:"jobIds"`
}

// partialUploadResponse reports the jobs that were queued before a batch
// failed. They keep processing.
type partialUploadResponse struct {
	Error  string   `json:"error"`
	JobIDs []string `json:"jobIds"`
}

type uploadOneResponse struct {
	Message string `json:"message"`
	JobID   string `json:"jobId"`
}

type fileStatusResponse struct {
	Statuses     []models.FileStatus `json:"statuses"`
	AllCompleted bool                `json:"allCompleted"`
}

type completeJobResponse struct {
	Message string            `json:"message"`
	Status  models.FileStatus `json:"status"`
}

// UploadPDFs handles POST /upload/pdfs: multipart field "pdfs" plus chatId.
func (h *DocumentHandler) UploadPDFs(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	files, closeAll, err := openParts(form.File["pdfs"])
	defer closeAll()
	if err != nil {
		writeServiceError(w, h.logger, err, "Error uploading files")
		return
	}

	jobIDs, err := h.uploads.UploadBatch(r.Context(), files, formValue(form, "chatId"))
	if err != nil && len(jobIDs) > 0 {
		h.logger.Error().Err(err).Strs("job_ids", jobIDs).Msg("upload batch partially queued")
		writeJSON(w, http.StatusInternalServerError, partialUploadResponse{
			Error:  "Error uploading files",
			JobIDs: jobIDs,
		})
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "Error uploading files")
		return
	}

	writeJSON(w, http.StatusOK, uploadBatchResponse{
		Message: "Files uploaded successfully",
		Count:   len(jobIDs),
		JobIDs:  jobIDs,
	})
}

// UploadPDF handles POST /upload/pdf: a single multipart field "pdf".
func (h *DocumentHandler) UploadPDF(w http.ResponseWriter, r *http.Request) {
	form, ok := h.parseForm(w, r)
	if !ok {
		return
	}
	defer form.RemoveAll()

	headers := form.File["pdf"]
	if len(headers) == 0 {
		writeServiceError(w, h.logger, services.ErrNoFilesProvided, "Error uploading file")
		return
	}

	files, closeAll, err := openParts(headers[:1])
	defer closeAll()
	if err != nil {
		writeServiceError(w, h.logger, err, "Error uploading file")
		return
	}

	jobID, err := h.uploads.UploadOne(r.Context(), files[0], formValue(form, "chatId"))
	if err != nil {
		writeServiceError(w, h.logger, err, "Error uploading file")
		return
	}

	writeJSON(w, http.StatusOK, uploadOneResponse{Message: "uploaded", JobID: jobID})
}

// FileStatus handles GET /file-status?jobIds=a,b or ?chatId=X. jobIds wins
// when both are given.
func (h *DocumentHandler) FileStatus(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobIDs := splitList(q.Get("jobIds"))
	chatID := strings.TrimSpace(q.Get("chatId"))

	var (
		statuses []models.FileStatus
		err      error
	)
	switch {
	case len(jobIDs) > 0:
		statuses, err = h.tracker.QueryByJobIDs(r.Context(), jobIDs)
	case chatID != "":
		statuses, err = h.tracker.QueryBySession(r.Context(), chatID)
	default:
		writeError(w, http.StatusBadRequest, "Either jobIds or chatId must be provided")
		return
	}
	if err != nil {
		writeServiceError(w, h.logger, err, "Error checking file status")
		return
	}

	writeJSON(w, http.StatusOK, fileStatusResponse{
		Statuses:     statuses,
		AllCompleted: services.AllCompleted(statuses),
	})
}

// CompleteJob handles POST /complete-job, the worker's completion callback.
func (h *DocumentHandler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var req models.JobCompletion
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.JobID = strings.TrimSpace(req.JobID)
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "No job ID provided")
		return
	}

	st, err := h.tracker.Complete(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, err, "Error completing job")
		return
	}
	writeJSON(w, http.StatusOK, completeJobResponse{Message: "Job marked as completed", Status: st})
}

func (h *DocumentHandler) parseForm(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}
	return r.MultipartForm, true
}

// openParts opens every part. The returned func closes whatever was opened
// and is safe to call on error.
func openParts(headers []*multipart.FileHeader) ([]services.UploadFile, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	files := make([]services.UploadFile, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, err
		}
		opened = append(opened, f)
		files = append(files, services.UploadFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return files, closeAll, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
