package model

import "context"

// Uploader publishes a rendered LaunchReport.
type Uploader interface {
	Upload(ctx context.Context, raw []byte) error
}

type UploadCloser interface {
	Uploader
	Close() error
}
