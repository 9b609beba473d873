package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"threadline/tools/errs"
)

// HTTPProvider forwards signing to the storage platform's signer endpoint.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

func NewHTTPProvider(endpoint string) *HTTPProvider {
	return &HTTPProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type signReq struct {
	Bucket    string `json:"bucket"`
	Path      string `json:"path"`
	ExpiresIn int64  `json:"expires_in"` // seconds
}

type signResp struct {
	URL string `json:"url"`
}

func (p *HTTPProvider) SignURL(ctx context.Context, bucket, objectPath string, expires time.Duration) (string, error) {
	body, err := json.Marshal(signReq{
		Bucket:    bucket,
		Path:      objectPath,
		ExpiresIn: int64(expires.Seconds()),
	})
	if err != nil {
		return "", errs.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errs.Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errs.WrapMsg(err, "signer request")
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var out signResp
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", errs.WrapMsg(err, "signer response")
		}
		return out.URL, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// 404-class: the resolver may try the next candidate bucket.
		return "", errs.ErrNotFound.WithDetail(bucket + "/" + objectPath)
	default:
		return "", errs.ErrStoreUnavailable.WithDetail(resp.Status)
	}
}
