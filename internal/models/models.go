package models

import (
	"encoding/json"
	"time"
)

// Processing states of an uploaded file. StatusUnknown is only ever returned
// for lookups that miss; it is never stored.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusUnknown    = "unknown"
)

// IngestionJob is the queue payload for one uploaded PDF.
type IngestionJob struct {
	JobID      string `json:"jobId,omitempty"`
	Filename   string `json:"filename"`
	SourcePath string `json:"sourcePath"` // object storage reference, not file bytes
	SessionID  string `json:"chatId"`
}

// FileStatus tracks the ingestion progress of one uploaded file.
type FileStatus struct {
	JobID       string     `json:"jobId" db:"job_id" badgerhold:"key"`
	Filename    string     `json:"filename,omitempty" db:"filename"`
	SessionID   string     `json:"chatId,omitempty" db:"session_id" badgerhold:"index"`
	Status      string     `json:"status" db:"status"`
	CreatedAt   time.Time  `json:"createdAt,omitzero" db:"created_at"`
	CompletedAt *time.Time `json:"completedAt,omitempty" db:"completed_at"`
	Error       string     `json:"error,omitempty" db:"error"` // set when ingestion failed but the job was still completed
}

// IsCompleted reports whether the record reached its terminal state.
func (s FileStatus) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// UnknownStatus is the sentinel returned for job ids with no record.
func UnknownStatus(jobID string) FileStatus {
	return FileStatus{JobID: jobID, Status: StatusUnknown}
}

// JobCompletion is what the worker reports once it is done with a job,
// successful or not.
type JobCompletion struct {
	JobID string `json:"jobId" validate:"required"`
	Error string `json:"error,omitempty"`
}

// PageBlock is one page worth of extracted text. PageNumber is 1-based;
// zero means the extractor could not attribute the text to a page.
type PageBlock struct {
	PageNumber int
	Text       string
}

// ChunkMetadata is attached to every indexed chunk. SessionID is the
// partition key used to filter retrieval.
type ChunkMetadata struct {
	Source           string `json:"source"`
	OriginalFilename string `json:"originalFilename"`
	SessionID        string `json:"chatId"`
	PageNumber       int    `json:"pageNumber,omitempty"`
	JobID            string `json:"jobId,omitempty"`
}

// Chunk is one bounded slice of page text.
//
// Offset:   rune offset of the chunk inside its page text.
// Position: zero-based order of the chunk inside the document.
type Chunk struct {
	ID          string        `json:"id" db:"id"`
	PageContent string        `json:"pageContent" db:"content"`
	Metadata    ChunkMetadata `json:"metadata" db:"metadata"`
	Offset      int           `json:"-" db:"-"`
	Position    int           `json:"-" db:"position"`
	Embedding   []float32     `json:"-" db:"embedding"`
}

// RetrievedDocument is a chunk returned by a similarity search.
type RetrievedDocument struct {
	PageContent string        `json:"pageContent"`
	Metadata    ChunkMetadata `json:"metadata"`
	Score       float64       `json:"score"`
}

// Chat stream event types.
const (
	EventDocs  = "docs"
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// ChatEvent is one frame of a streamed answer.
type ChatEvent struct {
	Type    string              `json:"type"`
	Docs    []RetrievedDocument `json:"docs,omitempty"`
	Content string              `json:"content,omitempty"`
	Error   string              `json:"error,omitempty"`
}

// MarshalJSON writes only the fields that belong to the event type, so a
// docs event always carries a docs array, even an empty one.
func (e ChatEvent) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventDocs:
		docs := e.Docs
		if docs == nil {
			docs = []RetrievedDocument{}
		}
		return json.Marshal(struct {
			Type string              `json:"type"`
			Docs []RetrievedDocument `json:"docs"`
		}{e.Type, docs})
	case EventToken:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}{e.Type, e.Content})
	case EventError:
		return json.Marshal(struct {
			Type  string `json:"type"`
			Error string `json:"error"`
		}{e.Type, e.Error})
	default:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{e.Type})
	}
}
