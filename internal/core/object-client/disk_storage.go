package objectclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/markdave123-py/pdfchat/internal/core"
)

// DiskClient stores uploads in a local directory. References are file
// paths inside that directory, so api and worker processes must share it.
type DiskClient struct {
	dir string
}

func NewDiskClient(dir string) (*DiskClient, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve upload dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskClient{dir: abs}, nil
}

// UploadFile writes to a temp file first so a reader never sees a partial
// upload.
func (c *DiskClient) UploadFile(ctx context.Context, key string, data io.Reader, _ string) (string, error) {
	dst, err := c.resolve(filepath.Join(c.dir, filepath.Base(key)))
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(c.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, contextReader{ctx: ctx, r: data}); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	return dst, nil
}

func (c *DiskClient) GetObjectReader(_ context.Context, ref string) (io.ReadCloser, error) {
	path, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrNotFound, ref)
	}
	return f, err
}

func (c *DiskClient) DeleteFile(_ context.Context, ref string) error {
	path, err := c.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// resolve rejects references that point outside the upload directory.
func (c *DiskClient) resolve(ref string) (string, error) {
	path := filepath.Clean(ref)
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	if !strings.HasPrefix(path, c.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("reference %q is outside the upload directory", ref)
	}
	return path, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

var _ core.ObjectClient = (*DiskClient)(nil)
