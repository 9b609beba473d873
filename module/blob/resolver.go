package blob

import (
	"context"
	"errors"
	"strings"
	"time"

	"threadline/tools/errs"
)

// Provider signs one (bucket, path) for temporary access. A missing
// object must surface as an error matching errs.ErrNotFound so the
// resolver can tell "try the next bucket" apart from real failures.
type Provider interface {
	SignURL(ctx context.Context, bucket, objectPath string, expires time.Duration) (string, error)
}

// Resolver normalizes storage pointers across more than one bucket naming
// convention and falls back through candidate buckets on 404-class errors
// only. Anything else propagates immediately.
type Resolver struct {
	provider   Provider
	buckets    []string // candidates, tried in order
	defaultTTL time.Duration
}

func NewResolver(provider Provider, buckets []string, defaultTTL time.Duration) *Resolver {
	if defaultTTL <= 0 {
		defaultTTL = 15 * time.Minute
	}
	return &Resolver{provider: provider, buckets: buckets, defaultTTL: defaultTTL}
}

// Normalize splits a storage pointer into (bucket, path). Pointers come in
// several shapes: "path/in/bucket", "/path", "bucket/path" where bucket is
// one of the known candidates, or a full "gs://bucket/path" style prefix.
func (r *Resolver) Normalize(pointer, bucketHint string) (string, string) {
	p := strings.TrimSpace(pointer)
	for _, scheme := range []string{"gs://", "s3://", "storage://"} {
		if strings.HasPrefix(p, scheme) {
			p = p[len(scheme):]
			if i := strings.IndexByte(p, '/'); i > 0 {
				return p[:i], strings.TrimPrefix(p[i:], "/")
			}
			return p, ""
		}
	}
	p = strings.TrimLeft(p, "/")
	if bucketHint != "" {
		return bucketHint, strings.TrimPrefix(p, bucketHint+"/")
	}
	for _, b := range r.buckets {
		if strings.HasPrefix(p, b+"/") {
			return b, p[len(b)+1:]
		}
	}
	return "", p
}

// SignedURL resolves pointer to a temporary URL. When the pointer names no
// bucket, candidates are tried in order; a 404-class miss moves on to the
// next bucket, any other error stops the walk.
func (r *Resolver) SignedURL(ctx context.Context, pointer, bucketHint string, expires time.Duration) (string, time.Duration, error) {
	if pointer == "" {
		return "", 0, errs.ErrValidation.WithDetail("storage path required")
	}
	if expires <= 0 {
		expires = r.defaultTTL
	}
	bucket, path := r.Normalize(pointer, bucketHint)

	candidates := r.buckets
	if bucket != "" {
		candidates = append([]string{bucket}, r.buckets...)
	}
	if len(candidates) == 0 {
		return "", 0, errs.ErrValidation.WithDetail("no bucket candidates")
	}

	var lastMiss error
	tried := make(map[string]struct{}, len(candidates))
	for _, b := range candidates {
		if _, dup := tried[b]; dup {
			continue
		}
		tried[b] = struct{}{}
		url, err := r.provider.SignURL(ctx, b, path, expires)
		if err == nil {
			return url, expires, nil
		}
		if errors.Is(err, errs.ErrNotFound) {
			lastMiss = err
			continue
		}
		return "", 0, err
	}
	if lastMiss == nil {
		lastMiss = errs.ErrNotFound.WithDetail(pointer)
	}
	return "", 0, lastMiss
}
