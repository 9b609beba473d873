package blob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threadline/tools/errs"
)

// fakeProvider knows a fixed set of bucket/path objects; everything else
// is a 404. Setting failBucket makes that bucket fail hard.
type fakeProvider struct {
	objects    map[string]string // "bucket/path" -> url
	failBucket string
	calls      []string
}

func (f *fakeProvider) SignURL(_ context.Context, bucket, path string, _ time.Duration) (string, error) {
	key := bucket + "/" + path
	f.calls = append(f.calls, key)
	if bucket == f.failBucket {
		return "", errs.ErrStoreUnavailable.WithDetail(bucket)
	}
	if url, ok := f.objects[key]; ok {
		return url, nil
	}
	return "", errs.ErrNotFound.WithDetail(key)
}

func TestNormalize(t *testing.T) {
	r := NewResolver(&fakeProvider{}, []string{"media-eu", "media-us"}, 0)

	cases := []struct {
		pointer, hint string
		bucket, path  string
	}{
		{"gs://media-eu/a/b.png", "", "media-eu", "a/b.png"},
		{"s3://other-bucket/x", "", "other-bucket", "x"},
		{"storage://media-us/deep/path/c", "", "media-us", "deep/path/c"},
		{"media-eu/a/b.png", "", "media-eu", "a/b.png"},
		{"a/b.png", "", "", "a/b.png"},
		{"/leading/slash.png", "", "", "leading/slash.png"},
		{"a/b.png", "media-us", "media-us", "a/b.png"},
		{"media-us/a/b.png", "media-us", "media-us", "a/b.png"},
		{"gs://solo-bucket", "", "solo-bucket", ""},
	}
	for _, tc := range cases {
		b, p := r.Normalize(tc.pointer, tc.hint)
		assert.Equal(t, tc.bucket, b, "pointer %q", tc.pointer)
		assert.Equal(t, tc.path, p, "pointer %q", tc.pointer)
	}
}

func TestSignedURL_FallsThroughOnMissOnly(t *testing.T) {
	p := &fakeProvider{objects: map[string]string{
		"media-us/a/b.png": "https://signed/us/a/b.png",
	}}
	r := NewResolver(p, []string{"media-eu", "media-us"}, time.Minute)

	url, ttl, err := r.SignedURL(context.Background(), "a/b.png", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed/us/a/b.png", url)
	assert.Equal(t, time.Minute, ttl, "zero expiry falls back to the default")
	assert.Equal(t, []string{"media-eu/a/b.png", "media-us/a/b.png"}, p.calls,
		"first bucket missed, second hit")
}

func TestSignedURL_HardErrorStopsWalk(t *testing.T) {
	p := &fakeProvider{
		objects:    map[string]string{"media-us/a.png": "https://signed/us/a.png"},
		failBucket: "media-eu",
	}
	r := NewResolver(p, []string{"media-eu", "media-us"}, time.Minute)

	_, _, err := r.SignedURL(context.Background(), "a.png", "", 0)
	require.Error(t, err)
	assert.True(t, errs.ErrStoreUnavailable.Is(err), "hard failure propagates, no fallback")
	assert.Len(t, p.calls, 1)
}

func TestSignedURL_AllMiss(t *testing.T) {
	p := &fakeProvider{}
	r := NewResolver(p, []string{"media-eu", "media-us"}, time.Minute)

	_, _, err := r.SignedURL(context.Background(), "nope.png", "", 0)
	require.Error(t, err)
	assert.True(t, errs.ErrNotFound.Is(err))
}

func TestSignedURL_ExplicitBucketTriedFirst(t *testing.T) {
	p := &fakeProvider{objects: map[string]string{
		"media-us/a.png": "https://signed/us/a.png",
	}}
	r := NewResolver(p, []string{"media-eu", "media-us"}, time.Minute)

	url, _, err := r.SignedURL(context.Background(), "gs://media-us/a.png", "", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://signed/us/a.png", url)
	assert.Equal(t, []string{"media-us/a.png"}, p.calls, "named bucket hit first, no extra calls")
}

func TestSignedURL_Validation(t *testing.T) {
	r := NewResolver(&fakeProvider{}, nil, time.Minute)
	_, _, err := r.SignedURL(context.Background(), "", "", 0)
	require.Error(t, err)
	assert.True(t, errs.ErrValidation.Is(err))

	_, _, err = r.SignedURL(context.Background(), "a.png", "", 0)
	require.Error(t, err)
	assert.True(t, errs.ErrValidation.Is(err), "no candidates configured")
}
