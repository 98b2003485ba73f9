package core

import (
	"context"
	"io"

	"github.com/markdave123-py/pdfchat/internal/models"
)

// DocumentExtractor turns a PDF into page-tagged text blocks, in reading order.
type DocumentExtractor interface {
	ExtractPages(ctx context.Context, r io.Reader) ([]models.PageBlock, error)
}
