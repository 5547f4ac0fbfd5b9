package storage

import (
	"context"
	"time"
)

// SignedURL is a time-limited access URL minted from a permanent reference.
type SignedURL struct {
	URL        string
	ValidUntil time.Time
}

// Signer mints time-limited URLs for permanent object references.
type Signer interface {
	Sign(ctx context.Context, ref string) (SignedURL, error)
}

// Store is the object storage capability the pipeline depends on. References
// returned by Upload are permanent: they stay valid for the life of the
// object, unlike the expiring URLs external generation APIs hand back.
type Store interface {
	Signer
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
	Download(ctx context.Context, ref string) ([]byte, error)
}
