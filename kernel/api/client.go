package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
)

const DefaultServer = "http://127.0.0.1:8080"

// Client talks to a running controller. Api error codes come back as the engine's sentinel errors.
type Client struct {
	BaseUrl string
	Http    *http.Client
}

func NewClient(baseUrl string) *Client {
	if baseUrl == "" {
		baseUrl = DefaultServer
	}
	return &Client{
		BaseUrl: strings.TrimSuffix(baseUrl, "/"),
		Http:    &http.Client{Timeout: model.DefaultRequestTimeout},
	}
}

func (c *Client) Resources(ctx context.Context) ([]engine.StateView, error) {
	var views []engine.StateView
	if err := c.do(ctx, http.MethodGet, "/api/resources", http.StatusOK, &views); err != nil {
		return nil, err
	}
	return views, nil
}

func (c *Client) State(ctx context.Context, resourceId string) (engine.StateView, error) {
	var view engine.StateView
	err := c.do(ctx, http.MethodGet, "/api/resources/"+url.PathEscape(resourceId), http.StatusOK, &view)
	return view, err
}

// Request asks the controller to perform kind on resourceId. Like the in-process controller, a
// failed dispatch returns both the acceptance and an error matching ErrAllEndpointsFailed.
func (c *Client) Request(ctx context.Context, resourceId string, kind model.OperationKind) (*engine.Accepted, error) {
	accepted := &engine.Accepted{}
	path := fmt.Sprintf("/api/resources/%s/operations/%s", url.PathEscape(resourceId), kind)
	if err := c.do(ctx, http.MethodPost, path, http.StatusAccepted, accepted); err != nil {
		return nil, err
	}
	if accepted.DispatchError != "" {
		return accepted, errors.Wrap(engine.ErrAllEndpointsFailed, accepted.DispatchError)
	}
	return accepted, nil
}

// Events streams transitions to fn until ctx is done or the server closes the stream.
// An empty resourceId receives every resource.
func (c *Client) Events(ctx context.Context, resourceId string, fn func(model.Transition)) error {
	target := c.BaseUrl + "/api/events"
	if resourceId != "" {
		target += "?resource=" + url.QueryEscape(resourceId)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// the stream outlives any request timeout
	streaming := &http.Client{Transport: c.Http.Transport}
	resp, err := streaming.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrap(err, "unable to subscribe to events")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		data, found := strings.CutPrefix(scanner.Text(), "data: ")
		if !found {
			continue
		}
		var t model.Transition
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return errors.Wrap(err, "malformed event")
		}
		fn(t)
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "event stream")
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, expected int, out interface{}) error {
	var body io.Reader
	if method == http.MethodPost {
		body = bytes.NewReader([]byte("{}"))
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseUrl+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "unable to reach controller at %s", c.BaseUrl)
	}
	defer resp.Body.Close()

	if resp.StatusCode != expected {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "unable to decode %s %s", method, path)
	}
	return nil
}

var sentinels = map[string]error{
	CodeUnknownResource:      engine.ErrUnknownResource,
	CodeUnsupportedOperation: engine.ErrUnsupportedOperation,
	CodeOperationInProgress:  engine.ErrOperationInProgress,
	CodeInvalidTransition:    engine.ErrInvalidTransition,
	CodeDependencyNotReady:   engine.ErrDependencyNotReady,
}

func decodeError(resp *http.Response) error {
	var e ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
		return errors.Errorf("unexpected response status %s", resp.Status)
	}
	if sentinel, found := sentinels[e.Error]; found {
		return errors.Wrap(sentinel, e.Message)
	}
	return errors.Errorf("%s: %s", e.Error, e.Message)
}
