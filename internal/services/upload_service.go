package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

const pdfMagic = "%PDF-"

// UploadFile is one file of a multipart upload.
type UploadFile struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// UploadService accepts PDFs, stores them, and turns each into a tracked
// ingestion job.
type UploadService struct {
	objects  core.ObjectClient
	queue    core.JobQueue
	tracker  *StatusService
	maxFiles int
	logger   *log.Logger
	now      func() time.Time
}

func NewUploadService(objects core.ObjectClient, queue core.JobQueue, tracker *StatusService, maxFiles int, logger *log.Logger) *UploadService {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	return &UploadService{
		objects:  objects,
		queue:    queue,
		tracker:  tracker,
		maxFiles: maxFiles,
		logger:   logger,
		now:      time.Now,
	}
}

// UploadBatch validates every file before storing any of them, then submits
// them in order and returns their job ids in the same order. If a submit
// fails, the ids of the files already queued are returned with the error;
// those jobs stay queued and tracked.
func (s *UploadService) UploadBatch(ctx context.Context, files []UploadFile, sessionID string) ([]string, error) {
	if len(files) == 0 {
		return nil, ErrNoFilesProvided
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrNoSessionID
	}
	if len(files) > s.maxFiles {
		return nil, fmt.Errorf("%w: got %d, limit is %d", ErrTooManyFiles, len(files), s.maxFiles)
	}

	checked := make([]UploadFile, len(files))
	for i, f := range files {
		pf, err := sniffPDF(f)
		if err != nil {
			return nil, err
		}
		checked[i] = pf
	}

	jobIDs := make([]string, 0, len(checked))
	for _, f := range checked {
		id, err := s.submit(ctx, f, sessionID)
		if err != nil {
			return jobIDs, err
		}
		jobIDs = append(jobIDs, id)
	}
	return jobIDs, nil
}

// UploadOne is UploadBatch for a single file.
func (s *UploadService) UploadOne(ctx context.Context, file UploadFile, sessionID string) (string, error) {
	ids, err := s.UploadBatch(ctx, []UploadFile{file}, sessionID)
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// submit stores the file and enqueues its job. The status record is written
// from the queue's onAssigned hook, so it exists before any worker can see
// the job. A failed enqueue removes both the record and the stored file.
func (s *UploadService) submit(ctx context.Context, f UploadFile, sessionID string) (string, error) {
	name := filepath.Base(f.Filename)

	ref, err := s.objects.UploadFile(ctx, s.storageKey(name), f.Body, "application/pdf")
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}

	job := models.IngestionJob{Filename: name, SourcePath: ref, SessionID: sessionID}
	var tracked string
	jobID, err := s.queue.Enqueue(ctx, job, func(txCtx context.Context, jobID string) error {
		if err := s.tracker.Track(txCtx, jobID, name, sessionID); err != nil {
			return err
		}
		tracked = jobID
		return nil
	})
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if tracked != "" {
			if ferr := s.tracker.Forget(cleanup, tracked); ferr != nil {
				s.logger.Error().Err(ferr).Str("job_id", tracked).Msg("failed to roll back status record")
			}
		}
		if derr := s.objects.DeleteFile(cleanup, ref); derr != nil {
			s.logger.Error().Err(derr).Str("ref", ref).Msg("failed to remove stored upload")
		}
		return "", fmt.Errorf("enqueue %s: %w", name, err)
	}

	s.logger.Info().Str("job_id", jobID).Str("filename", name).Str("chat_id", sessionID).Msg("file queued for ingestion")
	return jobID, nil
}

// storageKey is <unix millis>-<9 random digits>-<base name>.
func (s *UploadService) storageKey(name string) string {
	return fmt.Sprintf("%d-%09d-%s", s.now().UnixMilli(), rand.IntN(1_000_000_000), name)
}

// sniffPDF accepts a file whose declared type or extension says PDF and whose
// content starts with the PDF magic. The returned file replays the sniffed
// bytes.
func sniffPDF(f UploadFile) (UploadFile, error) {
	declared := strings.EqualFold(strings.TrimSpace(strings.Split(f.ContentType, ";")[0]), "application/pdf") ||
		strings.EqualFold(filepath.Ext(f.Filename), ".pdf")
	if !declared || f.Body == nil {
		return f, fmt.Errorf("%s: %w", f.Filename, ErrNotPDF)
	}

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f.Body, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return f, fmt.Errorf("read %s: %w", f.Filename, err)
	}
	head = head[:n]
	if !bytes.Equal(head, []byte(pdfMagic)) {
		return f, fmt.Errorf("%s: %w", f.Filename, ErrNotPDF)
	}

	f.Body = io.MultiReader(bytes.NewReader(head), f.Body)
	return f, nil
}
