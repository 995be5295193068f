package upload

import (
	"context"
	"io"
)

// RoutedTransfer sends presigned URLs that Preferred owns through it and
// everything else through Default.
type RoutedTransfer struct {
	Preferred interface {
		Transfer
		Owns(rawURL string) bool
	}
	Default Transfer
}

func (r RoutedTransfer) PutObject(ctx context.Context, targetURL string, body io.Reader, size int64, contentType string) error {
	if r.Preferred != nil && r.Preferred.Owns(targetURL) {
		return r.Preferred.PutObject(ctx, targetURL, body, size, contentType)
	}
	return r.Default.PutObject(ctx, targetURL, body, size, contentType)
}
