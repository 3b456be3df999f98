// Package notify delivers fired notifications. NtfyClient posts to an
// ntfy server, ExecHook runs a local command, and Multi fans a fire out
// to several dispatchers.
package notify

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/greenlonk/chime/errors"
	"github.com/greenlonk/chime/internal/httpclient"
	"github.com/greenlonk/chime/logger"
)

// NtfyClient publishes notifications to an ntfy server: POST
// {base}/{topic} with the title in a header and the body as content.
type NtfyClient struct {
	baseURL string
	token   string
	client  *httpclient.SaferClient
	log     *zap.SugaredLogger

	mu      sync.Mutex
	limiter *rate.Limiter
}

// NtfyOptions tunes delivery. The zero value means no auth, no rate
// limit, public hosts only, and a 10 second request timeout.
type NtfyOptions struct {
	// Token is sent as a Bearer credential when set.
	Token string

	// RatePerMinute caps outbound posts. Zero or negative means
	// unlimited.
	RatePerMinute float64

	// AllowPrivateHosts permits servers on localhost and RFC 1918
	// addresses, for self-hosted ntfy instances.
	AllowPrivateHosts bool

	// Timeout bounds each request end to end.
	Timeout time.Duration
}

// NewNtfyClient creates a client for the given server base URL.
func NewNtfyClient(baseURL string, opts NtfyOptions) *NtfyClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	blockPrivate := !opts.AllowPrivateHosts
	client := httpclient.NewSaferClientWithOptions(timeout, httpclient.SaferClientOptions{
		BlockPrivateIP: &blockPrivate,
	})

	return &NtfyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		client:  client,
		limiter: newLimiter(opts.RatePerMinute),
		log:     logger.ComponentLogger("ntfy"),
	}
}

// SetRateLimit replaces the rate limit, for live config reloads.
func (c *NtfyClient) SetRateLimit(perMinute float64) {
	c.mu.Lock()
	c.limiter = newLimiter(perMinute)
	c.mu.Unlock()
}

// newLimiter builds a token bucket allowing perMinute posts, with a
// burst of roughly one second's allowance.
func newLimiter(perMinute float64) *rate.Limiter {
	if perMinute <= 0 {
		return nil
	}
	burst := int(perMinute / 60)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perMinute/60.0), burst)
}

// Send publishes one notification. Any failure to deliver, including
// waiting out the rate limit past the caller's deadline, reports as a
// failed dispatch.
func (c *NtfyClient) Send(ctx context.Context, topic, title, body string) error {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return dispatchErr(err, "rate limit wait for topic %s", topic)
		}
	}

	endpoint := c.baseURL + "/" + url.PathEscape(topic)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return dispatchErr(err, "failed to build request for topic %s", topic)
	}
	req.Header.Set("Title", sanitizeHeader(title))
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return dispatchErr(err, "failed to post to topic %s", topic)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The first line of the response usually says why.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return dispatchErr(
			errors.Newf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
			"failed to post to topic %s", topic)
	}

	c.log.Debugw("Notification posted",
		logger.FieldTopic, topic,
		logger.FieldStatus, resp.StatusCode,
	)
	return nil
}

// sanitizeHeader folds newlines to spaces so a notification title can
// never smuggle extra header lines into the request.
func sanitizeHeader(s string) string {
	return strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
}

// dispatchErr classifies a delivery failure so the scheduler can tell
// it apart from scheduling and store errors.
func dispatchErr(err error, format string, args ...interface{}) error {
	return errors.Mark(errors.Wrapf(err, format, args...), errors.ErrDispatchFailed)
}
