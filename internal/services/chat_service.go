package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// GateResult says whether a chat session may be queried.
type GateResult int

const (
	Ready GateResult = iota
	NoDocumentsUploaded
	DocumentsStillProcessing
)

const (
	msgNoDocuments = "No data has been provided. Please upload a PDF document first."
	msgProcessing  = "Your documents are still being processed. Please wait until processing is complete before asking questions."
)

// Message is the assistant reply shown instead of an answer when the gate
// is closed.
func (g GateResult) Message() string {
	switch g {
	case NoDocumentsUploaded:
		return msgNoDocuments
	case DocumentsStillProcessing:
		return msgProcessing
	default:
		return ""
	}
}

func (g GateResult) String() string {
	switch g {
	case Ready:
		return "ready"
	case NoDocumentsUploaded:
		return "no_documents"
	case DocumentsStillProcessing:
		return "processing"
	default:
		return fmt.Sprintf("GateResult(%d)", int(g))
	}
}

const systemPrompt = `You are a helpful AI assistant who answers the user's question using only the context taken from their PDF files.
When referring to sources, mention which document(s) the information came from if that metadata is available.
If the context does not contain the answer, say so.`

// ChatAnswer is the non-streaming reply.
type ChatAnswer struct {
	Message string                     `json:"message"`
	Docs    []models.RetrievedDocument `json:"docs"`
}

// ChatConfig tunes retrieval and generation.
//
// TopK:      documents retrieved per question.
// *Timeout:  bound on each external call of that kind.
type ChatConfig struct {
	TopK         int
	EmbedTimeout time.Duration
	IndexTimeout time.Duration
	LLMTimeout   time.Duration
}

// ChatConfigFrom picks the chat settings out of the service config.
func ChatConfigFrom(cfg *config.Config) ChatConfig {
	return ChatConfig{
		TopK:         cfg.RetrievalTopK,
		EmbedTimeout: cfg.EmbedTimeout,
		IndexTimeout: cfg.IndexTimeout,
		LLMTimeout:   cfg.LLMTimeout,
	}
}

func (c ChatConfig) withDefaults() ChatConfig {
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 30 * time.Second
	}
	if c.IndexTimeout <= 0 {
		c.IndexTimeout = 30 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 2 * time.Minute
	}
	return c
}

type ChatService struct {
	tracker  *StatusService
	embedder core.EmbeddingProvider
	index    core.VectorStore
	llm      core.LLMProvider
	cfg      ChatConfig
	logger   *log.Logger
}

func NewChatService(tracker *StatusService, embedder core.EmbeddingProvider, index core.VectorStore, llm core.LLMProvider, cfg ChatConfig, logger *log.Logger) *ChatService {
	return &ChatService{
		tracker:  tracker,
		embedder: embedder,
		index:    index,
		llm:      llm,
		cfg:      cfg.withDefaults(),
		logger:   logger,
	}
}

// Gate decides from the session's status records alone; it never touches
// the vector index.
func (s *ChatService) Gate(ctx context.Context, sessionID string) (GateResult, error) {
	statuses, err := s.tracker.QueryBySession(ctx, sessionID)
	if err != nil {
		return Ready, err
	}
	if len(statuses) == 0 {
		return NoDocumentsUploaded, nil
	}
	for _, st := range statuses {
		if !st.IsCompleted() {
			return DocumentsStillProcessing, nil
		}
	}
	return Ready, nil
}

func validateQuery(query, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrNoSessionID
	}
	if strings.TrimSpace(query) == "" {
		return ErrNoQuery
	}
	return nil
}

// Answer runs gate, retrieval and a single generation call.
func (s *ChatService) Answer(ctx context.Context, query, sessionID string) (*ChatAnswer, error) {
	if err := validateQuery(query, sessionID); err != nil {
		return nil, err
	}

	gate, err := s.Gate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if gate != Ready {
		return &ChatAnswer{Message: gate.Message(), Docs: []models.RetrievedDocument{}}, nil
	}

	docs, err := s.retrieve(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	sys, err := groundingPrompt(docs)
	if err != nil {
		return nil, err
	}

	llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()
	msg, err := s.llm.Generate(llmCtx, sys, query)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	return &ChatAnswer{Message: msg, Docs: docs}, nil
}

// StreamAnswer emits one docs event, then a token event per generated
// fragment, then done. Any failure ends the stream with a single error
// event instead. The channel is closed when the stream ends or ctx is
// cancelled.
func (s *ChatService) StreamAnswer(ctx context.Context, query, sessionID string) <-chan models.ChatEvent {
	out := make(chan models.ChatEvent)

	go func() {
		defer close(out)

		send := func(ev models.ChatEvent) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Str("chat_id", sessionID).Msg("chat stream failed")
			send(models.ChatEvent{Type: models.EventError, Error: err.Error()})
		}

		if err := validateQuery(query, sessionID); err != nil {
			fail(err)
			return
		}

		gate, err := s.Gate(ctx, sessionID)
		if err != nil {
			fail(err)
			return
		}
		if gate != Ready {
			if send(models.ChatEvent{Type: models.EventDocs, Docs: []models.RetrievedDocument{}}) &&
				send(models.ChatEvent{Type: models.EventToken, Content: gate.Message()}) {
				send(models.ChatEvent{Type: models.EventDone})
			}
			return
		}

		docs, err := s.retrieve(ctx, query, sessionID)
		if err != nil {
			fail(err)
			return
		}
		sys, err := groundingPrompt(docs)
		if err != nil {
			fail(err)
			return
		}
		if !send(models.ChatEvent{Type: models.EventDocs, Docs: docs}) {
			return
		}

		llmCtx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
		defer cancel()
		err = s.llm.GenerateStream(llmCtx, sys, query, func(fragment string) error {
			if !send(models.ChatEvent{Type: models.EventToken, Content: fragment}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			fail(fmt.Errorf("generate: %w", err))
			return
		}
		send(models.ChatEvent{Type: models.EventDone})
	}()

	return out
}

// retrieve embeds the question and searches the session's chunks, each call
// under its own deadline.
func (s *ChatService) retrieve(ctx context.Context, query, sessionID string) ([]models.RetrievedDocument, error) {
	embedCtx, cancelEmbed := context.WithTimeout(ctx, s.cfg.EmbedTimeout)
	vecs, err := s.embedder.EmbedTexts(embedCtx, []string{query})
	cancelEmbed()
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vecs))
	}

	searchCtx, cancelSearch := context.WithTimeout(ctx, s.cfg.IndexTimeout)
	docs, err := s.index.SearchChunks(searchCtx, sessionID, vecs[0], s.cfg.TopK)
	cancelSearch()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if docs == nil {
		docs = []models.RetrievedDocument{}
	}
	return docs, nil
}

func groundingPrompt(docs []models.RetrievedDocument) (string, error) {
	ctxJSON, err := json.Marshal(docs)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}
	return systemPrompt + "\nContext:\n" + string(ctxJSON), nil
}
