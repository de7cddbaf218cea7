package steps

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Iron-Ham/stagehand/internal/catalog"
	"github.com/Iron-Ham/stagehand/internal/errors"
	"github.com/Iron-Ham/stagehand/internal/manifest"
	"github.com/Iron-Ham/stagehand/internal/orchestrator"
	"github.com/Iron-Ham/stagehand/internal/unit"
)

// ServiceHTTPClient is the service name http_check steps look up.
const ServiceHTTPClient = "http_client"

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPClient is the shared client created by HTTPClientPrerequisite.
type HTTPClient struct {
	*http.Client
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.CloseIdleConnections()
	return nil
}

// HTTPClientPrerequisite creates the shared client during the basics phase.
func HTTPClientPrerequisite(timeout time.Duration) orchestrator.Prerequisite {
	return orchestrator.Prerequisite{
		Name: ServiceHTTPClient,
		Create: func(context.Context) (any, error) {
			return &HTTPClient{Client: &http.Client{Timeout: timeout}}, nil
		},
	}
}

// HTTPCheck requests URL and requires ExpectStatus in the response.
type HTTPCheck struct {
	Label        string
	URL          string
	Method       string
	ExpectStatus int
	Timeout      time.Duration
}

// Name implements unit.Named.
func (h *HTTPCheck) Name() string { return h.Label }

// Setup implements unit.Unit.
func (h *HTTPCheck) Setup(ctx context.Context, run unit.RunContext) error {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := clientOf(run).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", h.Method, h.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != h.ExpectStatus {
		return fmt.Errorf("%s %s: status %d, want %d", h.Method, h.URL, resp.StatusCode, h.ExpectStatus)
	}
	loggerOf(run).Debug("endpoint healthy", "url", h.URL, "status", resp.StatusCode)
	return nil
}

func clientOf(run unit.RunContext) Doer {
	if run != nil {
		if svc, ok := run.Service(ServiceHTTPClient); ok {
			if d, ok := svc.(Doer); ok {
				return d
			}
		}
	}
	return http.DefaultClient
}

func newHTTPCheck(step *manifest.Step, _ *catalog.Registry) (unit.Template, error) {
	opts := struct {
		URL          string        `mapstructure:"url"`
		Method       string        `mapstructure:"method"`
		ExpectStatus int           `mapstructure:"expect_status"`
		Timeout      time.Duration `mapstructure:"timeout"`
	}{
		Method:       http.MethodGet,
		ExpectStatus: http.StatusOK,
	}
	if err := catalog.Decode(step.With, &opts); err != nil {
		return nil, err
	}
	if opts.URL == "" {
		return nil, errors.New("url is required")
	}
	if u, err := url.Parse(opts.URL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid url %q", opts.URL)
	}

	return unit.Of(step.Label(), &HTTPCheck{
		Label:        step.Label(),
		URL:          opts.URL,
		Method:       opts.Method,
		ExpectStatus: opts.ExpectStatus,
		Timeout:      opts.Timeout,
	}), nil
}
