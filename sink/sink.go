// Package sink pushes flattened submissions to the spreadsheet webhook.
package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/mbolis/matrix-survey/log"
	"github.com/mbolis/matrix-survey/model"
	pkgerrors "github.com/pkg/errors"
)

var (
	ErrNoEndpoint      = errors.New("no sink endpoint configured")
	ErrInvalidEndpoint = errors.New("sink endpoint must be an absolute http(s) URL")
)

// ValidEndpoint reports whether endpoint is an absolute http or https URL
// with a host.
func ValidEndpoint(endpoint string) bool {
	u, err := url.Parse(endpoint)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Client delivers a payload to the secondary sink. A nil error only means the
// request went out and came back; the response itself is not looked at.
type Client interface {
	Push(ctx context.Context, p *model.Payload) error
}

type HTTPClient struct {
	URL  string
	HTTP *http.Client
}

const DefaultTimeout = 30 * time.Second

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		URL:  url,
		HTTP: &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *HTTPClient) Push(ctx context.Context, p *model.Payload) error {
	if c.URL == "" {
		return ErrNoEndpoint
	}

	body, err := json.Marshal(p)
	if err != nil {
		return pkgerrors.Wrap(err, "sink.push.marshal")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return pkgerrors.Wrap(err, "sink.push.request")
	}
	// text/plain keeps the request "simple" for webhooks that only accept those
	req.Header.Set("content-type", "text/plain;charset=UTF-8")
	req.Header.Set("cache-control", "no-cache")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(err, "sink.push")
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	log.Tracef("sink.push: %s answered %d", c.URL, resp.StatusCode)
	return nil
}

// Resolve picks the endpoint to use: the one configured at build time, then
// the session override, then the locally saved setting.
func Resolve(buildTime, session, local string) string {
	for _, endpoint := range []string{buildTime, session, local} {
		if endpoint != "" {
			return endpoint
		}
	}
	return ""
}
