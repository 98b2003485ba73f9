package ingestion_engine

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/pdfchat/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Splitter cuts text into windows of at most size runes. A window ends just
// after the last newline that lies beyond the overlap region, or at exactly
// size runes when there is none. Consecutive windows share at most overlap
// runes.
type Splitter struct {
	size    int
	overlap int
}

type Option func(*Splitter)

func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

func NewSplitter(opts ...Option) *Splitter {
	s := &Splitter{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.size {
		s.overlap = s.size / 4
	}
	return s
}

// Segment is one window of the input. Offset is in runes.
type Segment struct {
	Offset int
	Text   string
}

// Split returns the windows of text in order. Every segment is a substring
// of text starting at Offset; dropping the overlap of each segment with its
// predecessor and concatenating gives text back.
func (s *Splitter) Split(text string) []Segment {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	var out []Segment
	start := 0
	for {
		if n-start <= s.size {
			out = append(out, Segment{Offset: start, Text: string(runes[start:])})
			return out
		}

		end := start + s.size
		cut := end
		for i := end - 1; i >= start+s.overlap && i > start; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		out = append(out, Segment{Offset: start, Text: string(runes[start:cut])})

		// Prefer a next window that starts on a fresh line.
		next := cut - s.overlap
		for p := next; p < cut; p++ {
			if p > start && runes[p-1] == '\n' {
				next = p
				break
			}
		}
		if next <= start {
			next = cut
		}
		start = next
	}
}

// streamChunk splits every page and emits the non-blank windows in document
// order.
func (i *DocumentIngestor) streamChunk(
	ctx context.Context,
	g *errgroup.Group,
	pages []models.PageBlock,
) <-chan chunk {
	out := make(chan chunk, 8)

	g.Go(func() error {
		defer close(out)
		for _, p := range pages {
			for _, seg := range i.splitter.Split(p.Text) {
				if strings.TrimSpace(seg.Text) == "" {
					continue
				}
				select {
				case out <- chunk{Page: p.PageNumber, Offset: seg.Offset, Text: seg.Text}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		return nil
	})

	return out
}
