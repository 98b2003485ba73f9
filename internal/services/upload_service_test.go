package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/core/store"
	"github.com/markdave123-py/pdfchat/internal/logger"
	"github.com/markdave123-py/pdfchat/internal/models"
)

func pdf(name string) UploadFile {
	return UploadFile{
		Filename:    name,
		ContentType: "application/pdf",
		Body:        strings.NewReader("%PDF-1.7\n" + name),
	}
}

type uploadFixture struct {
	objects *memObjects
	queue   *memQueue
	tracker *StatusService
	svc     *UploadService
}

func newUploadFixture(t *testing.T, maxFiles int) *uploadFixture {
	t.Helper()
	f := &uploadFixture{objects: newMemObjects(), queue: &memQueue{}}
	f.tracker, _ = newTracker(t)
	f.svc = NewUploadService(f.objects, f.queue, f.tracker, maxFiles, logger.Discard())
	return f
}

func TestUploadBatch_SubmitsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, 10)

	ids, err := f.svc.UploadBatch(ctx, []UploadFile{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")}, "chat-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, ids)

	require.Len(t, f.queue.jobs, 3)
	for i, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		job := f.queue.jobs[i]
		assert.Equal(t, ids[i], job.JobID)
		assert.Equal(t, name, job.Filename)
		assert.Equal(t, "chat-1", job.SessionID)
		assert.True(t, strings.HasSuffix(job.SourcePath, "-"+name), job.SourcePath)

		stored := f.objects.files[job.SourcePath]
		assert.Equal(t, "%PDF-1.7\n"+name, string(stored), "sniffed bytes are replayed")
	}

	statuses, err := f.tracker.QueryBySession(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, statuses, 3)
	for _, st := range statuses {
		assert.Equal(t, models.StatusProcessing, st.Status)
	}
}

func TestUploadBatch_TracksBeforeVisible(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, 10)

	var seen models.FileStatus
	f.queue.beforeVisible = func(jobID string) {
		got, err := f.tracker.QueryByJobIDs(ctx, []string{jobID})
		require.NoError(t, err)
		seen = got[0]
	}

	id, err := f.svc.UploadOne(ctx, pdf("a.pdf"), "chat-1")
	require.NoError(t, err)
	assert.Equal(t, id, seen.JobID)
	assert.Equal(t, models.StatusProcessing, seen.Status)
}

func TestUploadBatch_TracksInsideEnqueue(t *testing.T) {
	ctx := context.Background()
	rec := &recordingStore{StatusStore: store.NewMemoryStatusStore()}
	q := &memQueue{}
	svc := NewUploadService(newMemObjects(), q, NewStatusService(rec, logger.Discard()), 10, logger.Discard())

	_, err := svc.UploadBatch(ctx, []UploadFile{pdf("a.pdf"), pdf("b.pdf")}, "chat-1")
	require.NoError(t, err)

	require.Len(t, rec.setCtxs, 2)
	for _, c := range rec.setCtxs {
		assert.Equal(t, "enqueue-tx", c.Value(enqueueTxKey{}), "status write uses the queue's enqueue context")
	}
}

func TestUploadBatch_PartialFailureKeepsQueuedJobs(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, 10)
	f.queue.failFrom = 2

	ids, err := f.svc.UploadBatch(ctx, []UploadFile{pdf("a.pdf"), pdf("b.pdf"), pdf("c.pdf")}, "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.pdf")
	assert.Equal(t, []string{"1"}, ids)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, "a.pdf", f.queue.jobs[0].Filename)
	assert.Len(t, f.objects.files, 1, "only the queued file stays stored")

	got, err := f.tracker.QueryByJobIDs(ctx, []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got[0].Status)
	assert.Equal(t, models.StatusUnknown, got[1].Status)
}

func TestUploadBatch_RollsBackFailedEnqueue(t *testing.T) {
	ctx := context.Background()
	f := newUploadFixture(t, 10)
	f.queue.commitErr = errors.New("queue unavailable")

	_, err := f.svc.UploadOne(ctx, pdf("a.pdf"), "chat-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue unavailable")

	assert.Empty(t, f.objects.files, "stored upload is removed")
	got, err := f.tracker.QueryByJobIDs(ctx, []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnknown, got[0].Status, "status record is removed")
}

func TestUploadBatch_StorageFailure(t *testing.T) {
	f := newUploadFixture(t, 10)
	f.objects.uploadErr = errors.New("disk full")

	_, err := f.svc.UploadOne(context.Background(), pdf("a.pdf"), "chat-1")
	require.Error(t, err)
	assert.Empty(t, f.queue.jobs)
}

func TestUploadBatch_Validation(t *testing.T) {
	notPDF := UploadFile{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("hello")}
	fakePDF := UploadFile{Filename: "fake.pdf", ContentType: "application/pdf", Body: strings.NewReader("hello world")}
	empty := UploadFile{Filename: "empty.pdf", ContentType: "application/pdf", Body: strings.NewReader("")}

	tests := []struct {
		name    string
		files   []UploadFile
		session string
		max     int
		want    error
	}{
		{"no files", nil, "chat-1", 10, ErrNoFilesProvided},
		{"no session", []UploadFile{pdf("a.pdf")}, "  ", 10, ErrNoSessionID},
		{"too many", []UploadFile{pdf("a.pdf"), pdf("b.pdf")}, "chat-1", 1, ErrTooManyFiles},
		{"wrong type", []UploadFile{notPDF}, "chat-1", 10, ErrNotPDF},
		{"bad magic", []UploadFile{fakePDF}, "chat-1", 10, ErrNotPDF},
		{"empty body", []UploadFile{empty}, "chat-1", 10, ErrNotPDF},
		{"one bad file rejects the batch", []UploadFile{pdf("a.pdf"), notPDF}, "chat-1", 10, ErrNotPDF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t, tt.max)
			_, err := f.svc.UploadBatch(context.Background(), tt.files, tt.session)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, f.objects.files)
			assert.Empty(t, f.queue.jobs)
		})
	}
}

func TestSniffPDF_AcceptsExtensionWithoutType(t *testing.T) {
	f, err := sniffPDF(UploadFile{Filename: "Report.PDF", ContentType: "application/octet-stream", Body: strings.NewReader("%PDF-1.4")})
	require.NoError(t, err)
	assert.Equal(t, "Report.PDF", f.Filename)
}

func TestStorageKey(t *testing.T) {
	f := newUploadFixture(t, 10)
	key := f.svc.storageKey("a.pdf")
	parts := strings.SplitN(key, "-", 3)
	require.Len(t, parts, 3)
	assert.Len(t, parts[1], 9)
	assert.Equal(t, "a.pdf", parts[2])
}
