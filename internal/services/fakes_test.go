package services

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

type memObjects struct {
	mu        sync.Mutex
	files     map[string][]byte
	uploadErr error
}

func newMemObjects() *memObjects {
	return &memObjects{files: map[string][]byte{}}
}

func (m *memObjects) UploadFile(_ context.Context, key string, data io.Reader, _ string) (string, error) {
	if m.uploadErr != nil {
		return "", m.uploadErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := "mem/" + key
	m.files[ref] = b
	return ref, nil
}

func (m *memObjects) GetObjectReader(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not used")
}

func (m *memObjects) DeleteFile(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, ref)
	return nil
}

// memQueue only makes a job visible after onAssigned returns.
type memQueue struct {
	mu        sync.Mutex
	next      int
	jobs      []models.IngestionJob
	commitErr error
	// beforeVisible runs between onAssigned and the job becoming visible.
	beforeVisible func(jobID string)
	// failFrom makes every enqueue from the n-th one on fail (1-based; 0 never).
	failFrom int
}

// enqueueTxKey marks the ctx memQueue hands to onAssigned, standing in for
// a queue transaction.
type enqueueTxKey struct{}

func (q *memQueue) hookCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, enqueueTxKey{}, "enqueue-tx")
}

func (q *memQueue) Enqueue(ctx context.Context, job models.IngestionJob, onAssigned func(context.Context, string) error) (string, error) {
	q.mu.Lock()
	q.next++
	id := strconv.Itoa(q.next)
	q.mu.Unlock()

	if onAssigned != nil {
		if err := onAssigned(q.hookCtx(ctx), id); err != nil {
			return "", err
		}
	}
	if q.commitErr != nil {
		return "", q.commitErr
	}
	if q.failFrom > 0 && q.next >= q.failFrom {
		return "", errors.New("queue unavailable")
	}
	if q.beforeVisible != nil {
		q.beforeVisible(id)
	}

	q.mu.Lock()
	job.JobID = id
	q.jobs = append(q.jobs, job)
	q.mu.Unlock()
	return id, nil
}

func (q *memQueue) Receive(context.Context) (*core.Delivery, error) { return nil, core.ErrNoMessage }
func (q *memQueue) Close() error                                    { return nil }

// recordingStore remembers the ctx of every Set.
type recordingStore struct {
	core.StatusStore
	mu      sync.Mutex
	setCtxs []context.Context
}

func (r *recordingStore) Set(ctx context.Context, st models.FileStatus) error {
	r.mu.Lock()
	r.setCtxs = append(r.setCtxs, ctx)
	r.mu.Unlock()
	return r.StatusStore.Set(ctx, st)
}

type fakeEmbedder struct {
	calls int
	err   error
	// block makes EmbedTexts wait for ctx.
	block bool
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeIndex struct {
	calls       int
	docs        []models.RetrievedDocument
	session     string
	limit       int
	hadDeadline bool
}

func (f *fakeIndex) InsertChunks(context.Context, []models.Chunk) error { return nil }

func (f *fakeIndex) SearchChunks(ctx context.Context, sessionID string, _ []float32, limit int) ([]models.RetrievedDocument, error) {
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	f.session = sessionID
	f.limit = limit
	return f.docs, nil
}

type fakeLLM struct {
	fragments []string
	err       error
	system    string
	user      string
	// block makes GenerateStream wait for ctx after the first fragment.
	block bool
}

func (f *fakeLLM) Generate(_ context.Context, system, user string) (string, error) {
	f.system, f.user = system, user
	if f.err != nil {
		return "", f.err
	}
	out := ""
	for _, fr := range f.fragments {
		out += fr
	}
	return out, nil
}

func (f *fakeLLM) GenerateStream(ctx context.Context, system, user string, onFragment func(string) error) error {
	f.system, f.user = system, user
	for i, fr := range f.fragments {
		if err := onFragment(fr); err != nil {
			return err
		}
		if f.block && i == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return f.err
}
