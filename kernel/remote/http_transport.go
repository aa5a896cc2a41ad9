package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

type httpTransport struct {
	client *http.Client
}

func (t *httpTransport) Send(ctx context.Context, ep *model.Endpoint) error {
	method := strings.ToUpper(strings.TrimSpace(ep.Method))
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, ep.Url, body)
	if err != nil {
		return errors.Wrapf(err, "invalid request for '%s'", ep.Url)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, ep.Url)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("%s %s: unexpected status %d", method, ep.Url, resp.StatusCode)
	}
	return nil
}

func init() {
	factory := func() Transport {
		return &httpTransport{client: &http.Client{}}
	}
	RegisterTransport("http", factory)
	RegisterTransport("https", factory)
}
