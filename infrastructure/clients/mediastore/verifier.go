package mediastore

import (
	"context"
	"fmt"
	"net/http"

	"crosspost/domain/model"
)

// Verifier checks that media URLs resolve in the durable media store
// before a direct-URL platform is asked to fetch them.
type Verifier struct {
	httpClient *http.Client
}

func NewVerifier(httpClient *http.Client) *Verifier {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Verifier{httpClient: httpClient}
}

func (v *Verifier) Verify(ctx context.Context, item model.MediaItem) error {
	status, err := v.probe(ctx, http.MethodHead, item.URL)
	if err != nil {
		return err
	}
	// Some object stores reject HEAD on signed URLs; a one byte ranged GET answers the same question.
	if status == http.StatusMethodNotAllowed || status == http.StatusForbidden {
		if status, err = v.probe(ctx, http.MethodGet, item.URL); err != nil {
			return err
		}
	}
	if status/100 != 2 {
		return fmt.Errorf("media %s returned %d", item.URL, status)
	}
	return nil
}

func (v *Verifier) probe(ctx context.Context, method, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid media url %q: %w", url, err)
	}
	if method == http.MethodGet {
		req.Header.Set("Range", "bytes=0-0")
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
