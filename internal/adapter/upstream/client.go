// Package upstream performs a single wire attempt against a provider: build
// the request, inject the credential, pump the response downstream, and
// classify whatever happened into an outcome the retry controller can act on.
package upstream

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/glmproxy/glmproxy/internal/config"
	"github.com/glmproxy/glmproxy/internal/core/constants"
	"github.com/glmproxy/glmproxy/internal/core/domain"
	"github.com/glmproxy/glmproxy/internal/core/ports"
	"github.com/glmproxy/glmproxy/internal/logger"
	"github.com/glmproxy/glmproxy/pkg/pool"
)

type streamBuffer struct {
	b []byte
}

func (s *streamBuffer) Reset() {}

// Client implements ports.UpstreamClient over a shared keep-alive transport.
type Client struct {
	httpClient  *http.Client
	registry    ports.ProviderRegistry
	maxBodySize int64
	buffers     *pool.Pool[*streamBuffer]
	logger      *logger.StyledLogger
}

var _ ports.UpstreamClient = (*Client)(nil)

func NewClient(dispatch config.DispatchConfig, registry ports.ProviderRegistry, log *logger.StyledLogger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       dispatch.GetFreeSocketTimeout(),
		ResponseHeaderTimeout: dispatch.GetUpstreamTimeout(),
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	buffers, err := pool.NewLitePool(func() *streamBuffer {
		return &streamBuffer{b: make([]byte, constants.DefaultStreamBufferSize)}
	})
	if err != nil {
		panic(err)
	}

	return &Client{
		httpClient:  &http.Client{Transport: transport},
		registry:    registry,
		maxBodySize: constants.DefaultMaxBodySize,
		buffers:     buffers,
		logger:      log,
	}
}

// Send performs one attempt. Successful responses are written to w, streamed
// when the upstream streams; non-2xx responses are buffered into the result
// so the caller can retry or surface the upstream's own error body.
func (c *Client) Send(ctx context.Context, job *domain.Job, grant ports.CredentialGrant, decision *domain.RouteDecision, w http.ResponseWriter) *ports.UpstreamResult {
	started := time.Now()

	providerCfg, ok := c.registry.Provider(decision.Provider)
	if !ok {
		return &ports.UpstreamResult{
			Outcome: domain.OutcomeServerError,
			Headers: domain.NoRateLimitHeaders,
			Err:     domain.ErrProviderNotConfigured,
		}
	}

	auth := c.registry.FormatAuthHeader(decision.Provider, grant.Secret())
	if auth == nil {
		return &ports.UpstreamResult{
			Outcome: domain.OutcomeServerError,
			Headers: domain.NoRateLimitHeaders,
			Err:     domain.ErrProviderNotConfigured,
		}
	}

	body := rewriteModel(job.Body, decision.SelectedModel)
	target := url.URL{
		Scheme: providerCfg.TargetProtocol,
		Host:   providerCfg.TargetHost,
		Path:   joinPath(providerCfg.TargetBasePath, job.Path),
	}

	req, err := http.NewRequestWithContext(ctx, job.Method, target.String(), bytes.NewReader(body))
	if err != nil {
		return &ports.UpstreamResult{
			Outcome: domain.OutcomeHTTPParseError,
			Headers: domain.NoRateLimitHeaders,
			Err:     err,
		}
	}

	copyRequestHeaders(req.Header, job.Headers)
	req.Header.Set(auth.Name, auth.Value)
	if req.Header.Get(constants.HeaderContentType) == "" {
		req.Header.Set(constants.HeaderContentType, constants.ContentTypeJSON)
	}
	for name, value := range providerCfg.ExtraHeaders {
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	latency := time.Since(started)
	if err != nil {
		outcome := classifyError(err, ctx)
		if c.logger != nil {
			c.logger.Debug("Upstream request failed",
				"provider", decision.Provider, "model", decision.SelectedModel,
				"outcome", string(outcome), "latency_ms", latency.Milliseconds(), "error", err)
		}
		return &ports.UpstreamResult{
			Outcome: outcome,
			Latency: latency,
			Headers: domain.NoRateLimitHeaders,
			Err:     err,
		}
	}
	defer resp.Body.Close()

	rateHeaders := extractRateLimitHeaders(resp.Header)
	outcome := domain.ClassifyStatus(resp.StatusCode)

	if outcome != domain.OutcomeSuccess {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
		return &ports.UpstreamResult{
			Outcome:    outcome,
			StatusCode: resp.StatusCode,
			Latency:    latency,
			Headers:    rateHeaders,
			Body:       data,
		}
	}

	streaming := strings.HasPrefix(resp.Header.Get(constants.HeaderContentType), constants.ContentTypeEventStream)
	if streaming {
		return c.streamResponse(ctx, job, grant, decision, resp, w, started, rateHeaders)
	}

	// buffer non-streaming successes before touching the writer so a
	// truncated read stays retryable
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return &ports.UpstreamResult{
			Outcome:    classifyError(err, ctx),
			StatusCode: resp.StatusCode,
			Latency:    time.Since(started),
			Headers:    rateHeaders,
			Err:        err,
		}
	}

	c.writeResponseHeaders(w, resp, job, grant, decision)
	if _, err := w.Write(data); err != nil {
		return &ports.UpstreamResult{
			Outcome:    domain.OutcomeClientAborted,
			StatusCode: resp.StatusCode,
			Latency:    time.Since(started),
			Headers:    rateHeaders,
			Streamed:   true,
			Err:        err,
		}
	}

	return &ports.UpstreamResult{
		Outcome:    domain.OutcomeSuccess,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(started),
		Headers:    rateHeaders,
	}
}

// streamResponse pumps SSE chunks downstream as they arrive, flushing each
// write so event boundaries reach the client immediately.
func (c *Client) streamResponse(ctx context.Context, job *domain.Job, grant ports.CredentialGrant, decision *domain.RouteDecision, resp *http.Response, w http.ResponseWriter, started time.Time, rateHeaders domain.RateLimitHeaders) *ports.UpstreamResult {
	c.writeResponseHeaders(w, resp, job, grant, decision)

	flusher, canFlush := w.(http.Flusher)
	buf := c.buffers.Get()
	defer c.buffers.Put(buf)

	var total int
	for {
		n, err := resp.Body.Read(buf.b)
		if n > 0 {
			if _, werr := w.Write(buf.b[:n]); werr != nil {
				return &ports.UpstreamResult{
					Outcome:    domain.OutcomeClientAborted,
					StatusCode: resp.StatusCode,
					Latency:    time.Since(started),
					Headers:    rateHeaders,
					Streamed:   true,
					Err:        werr,
				}
			}
			total += n
			if canFlush {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			outcome := classifyError(err, ctx)
			if outcome != domain.OutcomeClientAborted {
				outcome = domain.OutcomeStreamPrematureClose
			}
			return &ports.UpstreamResult{
				Outcome:    outcome,
				StatusCode: resp.StatusCode,
				Latency:    time.Since(started),
				Headers:    rateHeaders,
				Streamed:   true,
				Err:        err,
			}
		}
	}

	if c.logger != nil {
		c.logger.Debug("Stream complete",
			"provider", decision.Provider, "model", decision.SelectedModel,
			"bytes", total, "latency_ms", time.Since(started).Milliseconds())
	}
	return &ports.UpstreamResult{
		Outcome:    domain.OutcomeSuccess,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(started),
		Headers:    rateHeaders,
		Streamed:   true,
	}
}

func (c *Client) writeResponseHeaders(w http.ResponseWriter, resp *http.Response, job *domain.Job, grant ports.CredentialGrant, decision *domain.RouteDecision) {
	copyResponseHeaders(w.Header(), resp.Header)
	w.Header().Set(constants.HeaderRequestID, job.ID)
	w.Header().Set(constants.HeaderCredential, grant.ID())
	w.Header().Set(constants.HeaderModel, decision.SelectedModel)
	w.WriteHeader(resp.StatusCode)
}

func joinPath(base, p string) string {
	base = strings.TrimSuffix(base, "/")
	if p == "" {
		return base
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}
