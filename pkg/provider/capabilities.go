package provider

import (
	"context"
	"io"
)

// Optional provider capability interfaces, used for feature detection.

// ObjectGetter can download objects as a stream.
type ObjectGetter interface {
	GetObject(ctx context.Context, key string) (body io.ReadCloser, contentLength int64, err error)
}

// ObjectPutter can create or overwrite objects.
type ObjectPutter interface {
	PutObject(ctx context.Context, key string, body io.Reader, contentLength int64) error
}

// ObjectDeleter can delete objects. Deleting a missing object is not an error.
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, key string) error
}

// ReadWriter is a provider with every capability the job store needs.
type ReadWriter interface {
	Provider
	ObjectGetter
	ObjectPutter
	ObjectDeleter
}
