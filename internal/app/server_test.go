package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/pdfchat/internal/api/handlers"
	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
	objectclient "github.com/markdave123-py/pdfchat/internal/core/object-client"
	"github.com/markdave123-py/pdfchat/internal/core/queue"
	"github.com/markdave123-py/pdfchat/internal/core/store"
	"github.com/markdave123-py/pdfchat/internal/logger"
	"github.com/markdave123-py/pdfchat/internal/models"
	"github.com/markdave123-py/pdfchat/internal/services"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

type stubIndex struct{ calls int }

func (s *stubIndex) InsertChunks(context.Context, []models.Chunk) error { return nil }

func (s *stubIndex) SearchChunks(_ context.Context, sessionID string, _ []float32, _ int) ([]models.RetrievedDocument, error) {
	s.calls++
	return []models.RetrievedDocument{
		{PageContent: "The launch is on Friday.", Metadata: models.ChunkMetadata{OriginalFilename: "plan.pdf", SessionID: sessionID, PageNumber: 1}},
		{PageContent: "Rehearsal is on Thursday.", Metadata: models.ChunkMetadata{OriginalFilename: "plan.pdf", SessionID: sessionID, PageNumber: 2}},
	}, nil
}

type stubLLM struct{}

func (stubLLM) Generate(context.Context, string, string) (string, error) { return "Friday.", nil }

func (stubLLM) GenerateStream(_ context.Context, _, _ string, onFragment func(string) error) error {
	for _, f := range []string{"Fri", "day."} {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return nil
}

type testEnv struct {
	handler http.Handler
	srv     *httptest.Server
	queue core.JobQueue
	index *stubIndex
}

// flakyQueue fails every enqueue from the n-th one on.
type flakyQueue struct {
	core.JobQueue
	failFrom int
	calls    int
}

func (q *flakyQueue) Enqueue(ctx context.Context, job models.IngestionJob, onAssigned func(context.Context, string) error) (string, error) {
	q.calls++
	if q.calls >= q.failFrom {
		return "", errors.New("queue unavailable")
	}
	return q.JobQueue.Enqueue(ctx, job, onAssigned)
}

func newTestEnv(t *testing.T, wrapQueue ...func(core.JobQueue) core.JobQueue) *testEnv {
	t.Helper()
	log := logger.Discard()
	cfg := config.Defaults()
	cfg.MaxUploadMB = 1

	bs, err := store.OpenBadger("", log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bs.Close() })

	bq, err := queue.NewBadgerQueue(bs.Badger(), cfg.QueueName, time.Minute)
	require.NoError(t, err)
	var q core.JobQueue = bq
	for _, wrap := range wrapQueue {
		q = wrap(q)
	}
	objects, err := objectclient.NewDiskClient(t.TempDir())
	require.NoError(t, err)

	tracker := services.NewStatusService(store.NewMemoryStatusStore(), log)
	index := &stubIndex{}
	uploads := services.NewUploadService(objects, q, tracker, cfg.MaxFilesPerUpload, log)
	chat := services.NewChatService(tracker, stubEmbedder{}, index, stubLLM{}, services.ChatConfigFrom(cfg), log)

	h := NewRouter(cfg, &Handlers{
		Documents: handlers.NewDocumentHandler(uploads, tracker, cfg.MaxUploadMB, log),
		Chat:      handlers.NewChatHandler(chat, log),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{handler: h, srv: srv, queue: q, index: index}
}

type part struct {
	field, filename, contentType, body string
}

func multipartBody(t *testing.T, chatID string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if chatID != "" {
		require.NoError(t, mw.WriteField("chatId", chatID))
	}
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.field+`"; filename="`+p.filename+`"`)
		h.Set("Content-Type", p.contentType)
		w, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = w.Write([]byte(p.body))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func pdfPart(field, name string) part {
	return part{field: field, filename: name, contentType: "application/pdf", body: "%PDF-1.4\n" + name}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) get(t *testing.T, path string, q url.Values) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path + "?" + q.Encode())
	require.NoError(t, err)
	return resp
}

// streamEvents reads SSE frames until the server closes the stream.
func (e *testEnv) streamEvents(t *testing.T, message, chatID string) []models.ChatEvent {
	t.Helper()
	resp := e.get(t, "/chat/stream", url.Values{"message": {message}, "chatId": {chatID}})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []models.ChatEvent
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		var ev models.ChatEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, sc.Err())
	return events
}

type statusResponse struct {
	Statuses     []models.FileStatus `json:"statuses"`
	AllCompleted bool                `json:"allCompleted"`
}

func TestUploadPollCompleteChat(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "chat-1", pdfPart("pdfs", "a.pdf"), pdfPart("pdfs", "b.pdf"))
	resp, err := http.Post(env.srv.URL+"/upload/pdfs", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	uploaded := decode[struct {
		Message string   `json:"message"`
		Count   int      `json:"count"`
		JobIDs  []string `json:"jobIds"`
	}](t, resp)
	assert.Equal(t, "Files uploaded successfully", uploaded.Message)
	assert.Equal(t, 2, uploaded.Count)
	require.Len(t, uploaded.JobIDs, 2)

	st := decode[statusResponse](t, env.get(t, "/file-status", url.Values{"chatId": {"chat-1"}}))
	require.Len(t, st.Statuses, 2)
	assert.False(t, st.AllCompleted)

	events := env.streamEvents(t, "when?", "chat-1")
	require.Len(t, events, 3)
	assert.Equal(t, "Your documents are still being processed. Please wait until processing is complete before asking questions.", events[1].Content)
	assert.Zero(t, env.index.calls)

	// the queued jobs carry the stored file, not its bytes
	for range uploaded.JobIDs {
		d, err := env.queue.Receive(context.Background())
		require.NoError(t, err)
		assert.Contains(t, uploaded.JobIDs, d.Job.JobID)
		assert.Equal(t, "chat-1", d.Job.SessionID)
		assert.NotEmpty(t, d.Job.SourcePath)
		require.NoError(t, d.Ack())
	}

	for _, id := range uploaded.JobIDs {
		resp, err := http.Post(env.srv.URL+"/complete-job", "application/json", strings.NewReader(`{"jobId":"`+id+`"}`))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		done := decode[struct {
			Message string            `json:"message"`
			Status  models.FileStatus `json:"status"`
		}](t, resp)
		assert.Equal(t, "Job marked as completed", done.Message)
		assert.Equal(t, models.StatusCompleted, done.Status.Status)
	}

	st = decode[statusResponse](t, env.get(t, "/file-status", url.Values{"jobIds": {strings.Join(uploaded.JobIDs, ",")}}))
	assert.True(t, st.AllCompleted)

	events = env.streamEvents(t, "when?", "chat-1")
	require.Len(t, events, 4)
	assert.Equal(t, models.EventDocs, events[0].Type)
	require.Len(t, events[0].Docs, 2)
	assert.Equal(t, "chat-1", events[0].Docs[0].Metadata.SessionID)
	assert.Equal(t, "Fri", events[1].Content)
	assert.Equal(t, "day.", events[2].Content)
	assert.Equal(t, models.EventDone, events[3].Type)

	answer := decode[services.ChatAnswer](t, env.get(t, "/chat", url.Values{"message": {"when?"}, "chatId": {"chat-1"}}))
	assert.Equal(t, "Friday.", answer.Message)
	assert.Len(t, answer.Docs, 2)
}

func TestChat_NoDocuments(t *testing.T) {
	env := newTestEnv(t)

	answer := decode[services.ChatAnswer](t, env.get(t, "/chat", url.Values{"message": {"hi"}, "chatId": {"empty"}}))
	assert.Equal(t, "No data has been provided. Please upload a PDF document first.", answer.Message)
	assert.Empty(t, answer.Docs)
	assert.Zero(t, env.index.calls)
}

func TestUploadSingle(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, "chat-1", pdfPart("pdf", "one.pdf"))
	resp, err := http.Post(env.srv.URL+"/upload/pdf", ct, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "uploaded", got["message"])
	assert.NotEmpty(t, got["jobId"])
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)

	post := func(path string, body *bytes.Buffer, ct string) *http.Response {
		resp, err := http.Post(env.srv.URL+path, ct, body)
		require.NoError(t, err)
		return resp
	}

	tests := []struct {
		name    string
		do      func() *http.Response
		status  int
		message string
	}{
		{"no files", func() *http.Response {
			b, ct := multipartBody(t, "chat-1")
			return post("/upload/pdfs", b, ct)
		}, http.StatusBadRequest, "No files uploaded"},
		{"no chat id", func() *http.Response {
			b, ct := multipartBody(t, "", pdfPart("pdfs", "a.pdf"))
			return post("/upload/pdfs", b, ct)
		}, http.StatusBadRequest, "No chat ID provided"},
		{"not a pdf", func() *http.Response {
			b, ct := multipartBody(t, "chat-1", part{"pdfs", "a.txt", "text/plain", "hello"})
			return post("/upload/pdfs", b, ct)
		}, http.StatusBadRequest, ""},
		{"too large", func() *http.Response {
			// in-process, so the early response cannot race the request body
			b, ct := multipartBody(t, "chat-1", part{"pdfs", "big.pdf", "application/pdf", "%PDF-" + strings.Repeat("x", 2<<20)})
			req := httptest.NewRequest(http.MethodPost, "/upload/pdfs", b)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			env.handler.ServeHTTP(rec, req)
			return rec.Result()
		}, http.StatusRequestEntityTooLarge, "upload too large"},
		{"status without params", func() *http.Response {
			return env.get(t, "/file-status", nil)
		}, http.StatusBadRequest, "Either jobIds or chatId must be provided"},
		{"complete without id", func() *http.Response {
			return post("/complete-job", bytes.NewBufferString(`{}`), "application/json")
		}, http.StatusBadRequest, "No job ID provided"},
		{"complete unknown", func() *http.Response {
			return post("/complete-job", bytes.NewBufferString(`{"jobId":"ghost"}`), "application/json")
		}, http.StatusNotFound, "Job not found"},
		{"chat without message", func() *http.Response {
			return env.get(t, "/chat", url.Values{"chatId": {"chat-1"}})
		}, http.StatusBadRequest, "No message provided"},
		{"stream without chat id", func() *http.Response {
			return env.get(t, "/chat/stream", url.Values{"message": {"hi"}})
		}, http.StatusBadRequest, "No chat ID provided"},
		{"stream with blank message", func() *http.Response {
			return env.get(t, "/chat/stream", url.Values{"message": {"   "}, "chatId": {"chat-1"}})
		}, http.StatusBadRequest, "No message provided"},
		{"stream with blank chat id", func() *http.Response {
			return env.get(t, "/chat/stream", url.Values{"message": {"hi"}, "chatId": {" \t"}})
		}, http.StatusBadRequest, "No chat ID provided"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := tt.do()
			assert.Equal(t, tt.status, resp.StatusCode)
			got := decode[map[string]string](t, resp)
			if tt.message != "" {
				assert.Equal(t, tt.message, got["error"])
			} else {
				assert.NotEmpty(t, got["error"])
			}
		})
	}
}

func TestUploadBatch_PartialFailureReportsQueuedJobs(t *testing.T) {
	env := newTestEnv(t, func(q core.JobQueue) core.JobQueue {
		return &flakyQueue{JobQueue: q, failFrom: 2}
	})

	body, ct := multipartBody(t, "chat-1", pdfPart("pdfs", "a.pdf"), pdfPart("pdfs", "b.pdf"), pdfPart("pdfs", "c.pdf"))
	resp, err := http.Post(env.srv.URL+"/upload/pdfs", ct, body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	got := decode[struct {
		Error  string   `json:"error"`
		JobIDs []string `json:"jobIds"`
	}](t, resp)
	assert.Equal(t, "Error uploading files", got.Error)
	require.Len(t, got.JobIDs, 1)

	// the reported job is real: tracked and queued
	st := decode[statusResponse](t, env.get(t, "/file-status", url.Values{"jobIds": {got.JobIDs[0]}}))
	require.Len(t, st.Statuses, 1)
	assert.Equal(t, models.StatusProcessing, st.Statuses[0].Status)
	assert.Equal(t, "a.pdf", st.Statuses[0].Filename)

	d, err := env.queue.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, got.JobIDs[0], d.Job.JobID)
	_, err = env.queue.Receive(context.Background())
	assert.ErrorIs(t, err, core.ErrNoMessage)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[map[string]string](t, resp)
	assert.Equal(t, "All Good!", got["status"])
}

func TestRequestTimeout(t *testing.T) {
	cfg := config.Defaults()
	assert.Equal(t, cfg.EmbedTimeout+cfg.IndexTimeout+cfg.LLMTimeout+10*time.Second, requestTimeout(cfg))

	cfg.EmbedTimeout, cfg.IndexTimeout, cfg.LLMTimeout = time.Second, time.Second, time.Second
	assert.Equal(t, 60*time.Second, requestTimeout(cfg))
}
