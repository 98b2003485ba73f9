package objectclient

import (
	"context"
	"fmt"

	"github.com/phuslu/log"

	"github.com/markdave123-py/pdfchat/internal/config"
	"github.com/markdave123-py/pdfchat/internal/core"
)

// New returns the object storage selected by BLOB_BACKEND.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (core.ObjectClient, error) {
	switch cfg.BlobBackend {
	case config.BackendS3:
		return NewS3Client(ctx, cfg, logger)
	case config.BackendDisk, "":
		return NewDiskClient(cfg.UploadDir)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}
