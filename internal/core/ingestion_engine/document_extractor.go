package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

// DocconvExtractor implements core.DocumentExtractor with pdfcpu for page
// splitting and sajari/docconv for text.
type DocconvExtractor struct {
	maxBytes int64
	convert  func(r io.Reader) (string, error)
	logger   *log.Logger
}

func NewDocconvExtractor(maxBytes int64, logger *log.Logger) *DocconvExtractor {
	// Keep pdfcpu from writing a config directory under $HOME.
	api.DisableConfigDir()
	return &DocconvExtractor{maxBytes: maxBytes, convert: convertPDF, logger: logger}
}

func convertPDF(r io.Reader) (string, error) {
	body, _, err := docconv.ConvertPDF(r)
	return body, err
}

// ExtractPages returns one block per non-empty page. When the file cannot be
// split into pages the whole document is converted at once and returned as
// a single block with PageNumber 0.
func (e *DocconvExtractor) ExtractPages(ctx context.Context, r io.Reader) ([]models.PageBlock, error) {
	if e.maxBytes > 0 {
		r = io.LimitReader(r, e.maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	if e.maxBytes > 0 && int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("pdf larger than %d bytes", e.maxBytes)
	}

	pages, err := e.extractByPage(ctx, data)
	if err == nil {
		return pages, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	e.logger.Warn().Err(err).Msg("per-page extraction failed, converting whole document")

	text, err := e.convert(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("docconv: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return []models.PageBlock{{PageNumber: 0, Text: text}}, nil
}

func (e *DocconvExtractor) extractByPage(ctx context.Context, data []byte) ([]models.PageBlock, error) {
	conf := model.NewDefaultConfiguration()

	count, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}

	blocks := make([]models.PageBlock, 0, count)
	var page bytes.Buffer
	for n := 1; n <= count; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page.Reset()
		if err := api.Trim(bytes.NewReader(data), &page, []string{strconv.Itoa(n)}, conf); err != nil {
			return nil, fmt.Errorf("split page %d: %w", n, err)
		}
		text, err := e.convert(bytes.NewReader(page.Bytes()))
		if err != nil {
			return nil, fmt.Errorf("convert page %d: %w", n, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, models.PageBlock{PageNumber: n, Text: text})
	}
	return blocks, nil
}
