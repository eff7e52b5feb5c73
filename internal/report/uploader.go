package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/CZERTAINLY/nessus-launcher/internal/model"
)

// WriteUploader writes a report to an io.Writer, os.Stdout by default.
type WriteUploader struct {
	w io.Writer
}

func NewWriteUploader(w io.Writer) WriteUploader {
	return WriteUploader{w: w}
}

func (u WriteUploader) Upload(_ context.Context, raw []byte) error {
	if u.w == nil {
		u.w = os.Stdout
	}
	_, err := u.w.Write(raw)
	return err
}

// DirUploader stores every report as a new timestamped file in a directory.
type DirUploader struct {
	root *os.Root
	ext  string
	now  func() time.Time
}

func NewDirUploader(path, format string) (*DirUploader, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	root, err := os.OpenRoot(path)
	if err != nil {
		return nil, err
	}
	return &DirUploader{root: root, ext: Ext(format), now: time.Now}, nil
}

func (u *DirUploader) Upload(ctx context.Context, b []byte) error {
	if u.root == nil {
		return errors.New("root already closed")
	}

	path := "nessus-launcher-" + u.now().Format("2006-01-02-15-04-05.000") + "." + u.ext

	f, err := u.root.Create(path)
	if err != nil {
		return fmt.Errorf("creating launch report: %w", err)
	}
	_, err = f.Write(b)
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("saving launch report: %w", err)
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("closing launch report: %w", err)
	}
	slog.InfoContext(ctx, "launch report saved", "path", path)
	return nil
}

func (u *DirUploader) Close() error {
	if u.root == nil {
		return errors.New("uploader already closed")
	}
	err := u.root.Close()
	u.root = nil
	return err
}

// Uploaders returns the uploaders for the service configuration: the
// directory when set, stdout otherwise.
func Uploaders(cfg model.Service) ([]model.Uploader, error) {
	if cfg.Dir == "" {
		return []model.Uploader{NewWriteUploader(os.Stdout)}, nil
	}
	u, err := NewDirUploader(cfg.Dir, cfg.Format)
	if err != nil {
		return nil, err
	}
	return []model.Uploader{u}, nil
}

// Close closes all uploaders implementing model.UploadCloser.
func Close(ctx context.Context, uploaders []model.Uploader) {
	for _, uploader := range uploaders {
		if closer, ok := uploader.(model.UploadCloser); ok {
			if err := closer.Close(); err != nil {
				slog.ErrorContext(ctx, "closing uploader have failed", "error", err)
			}
		}
	}
}
