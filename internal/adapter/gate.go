// Package adapter holds plumbing shared by the platform crawler adapters: the
// rate-limit gate around provider calls, seen-ID dedup and token caching.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-social-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-social-crawler/internal/errclass"
	"github.com/JakeFAU/realtime-social-crawler/internal/httpclient"
	"github.com/JakeFAU/realtime-social-crawler/internal/metrics"
	"github.com/JakeFAU/realtime-social-crawler/internal/ratelimit"
)

const (
	defaultCallTimeout = 30 * time.Second
	maxErrorMessage    = 200
)

// Doer issues HTTP requests and returns the response for every status code.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (httpclient.Response, error)
}

// Governor is the rate-limit bookkeeping used by the gate.
type Governor interface {
	CanAdmit(ctx context.Context, platform crawler.Platform, endpoint string) (bool, error)
	RecordSuccess(ctx context.Context, platform crawler.Platform, endpoint string) error
	RecordRateLimited(ctx context.Context, platform crawler.Platform, endpoint string, header http.Header) error
	TimeUntilReset(ctx context.Context, platform crawler.Platform, endpoint string) (time.Duration, bool, error)
	Status(ctx context.Context, platform crawler.Platform) (map[string]crawler.EndpointStatus, error)
}

// Pacer spaces out sequential calls to a platform.
type Pacer interface {
	Wait(ctx context.Context, platform crawler.Platform) error
}

// Gate wraps provider calls with pacing, admission, timeouts and status classification.
type Gate struct {
	doer     Doer
	governor Governor
	pacer    Pacer
	hook     func(*httpclient.Response)
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithPacer sets the outbound pacer.
func WithPacer(p Pacer) GateOption {
	return func(g *Gate) { g.pacer = p }
}

// WithResponseHook lets a platform rewrite a response before it is classified,
// e.g. to surface a body-level retry hint as a Retry-After header.
func WithResponseHook(fn func(*httpclient.Response)) GateOption {
	return func(g *Gate) { g.hook = fn }
}

// WithTimeout bounds each provider call.
func WithTimeout(d time.Duration) GateOption {
	return func(g *Gate) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) GateOption {
	return func(g *Gate) {
		if l != nil {
			g.logger = l.Named("gate")
		}
	}
}

// WithNow overrides the time source used for Retry-After math.
func WithNow(now func() time.Time) GateOption {
	return func(g *Gate) { g.now = now }
}

// NewGate builds a Gate.
func NewGate(doer Doer, governor Governor, opts ...GateOption) (*Gate, error) {
	if doer == nil {
		return nil, errors.New("http client is required")
	}
	if governor == nil {
		return nil, errors.New("rate limit governor is required")
	}
	g := &Gate{
		doer:     doer,
		governor: governor,
		timeout:  defaultCallTimeout,
		logger:   zap.NewNop(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Status returns the governor's view of a platform.
func (g *Gate) Status(ctx context.Context, platform crawler.Platform) (map[string]crawler.EndpointStatus, error) {
	status, err := g.governor.Status(ctx, platform)
	if err != nil {
		return nil, fmt.Errorf("rate limit status: %w", err)
	}
	return status, nil
}

// Call issues req against endpoint. Non-2xx responses come back as *crawler.ProviderError
// alongside the response. A refused admission returns RateLimited without calling the provider.
// The in-flight request is detached from ctx cancellation and bounded by the gate timeout.
func (g *Gate) Call(ctx context.Context, platform crawler.Platform, endpoint string, req httpclient.Request) (httpclient.Response, error) {
	if g.pacer != nil {
		if err := g.pacer.Wait(ctx, platform); err != nil {
			return httpclient.Response{}, err
		}
	}

	ok, err := g.governor.CanAdmit(ctx, platform, endpoint)
	if err != nil {
		return httpclient.Response{}, g.fail(&crawler.ProviderError{
			Kind:     crawler.KindTransient,
			Platform: platform,
			Endpoint: endpoint,
			Message:  "rate limit check failed",
			Err:      err,
		})
	}
	if !ok {
		pe := &crawler.ProviderError{
			Kind:     crawler.KindRateLimited,
			Platform: platform,
			Endpoint: endpoint,
			Message:  "local rate limit window exhausted",
		}
		if wait, found, werr := g.governor.TimeUntilReset(ctx, platform, endpoint); werr == nil && found {
			pe.RetryAfter = wait
		}
		return httpclient.Response{}, g.fail(pe)
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	resp, err := g.doer.Do(callCtx, req)
	if err != nil {
		return httpclient.Response{}, g.fail(&crawler.ProviderError{
			Kind:     crawler.KindTransient,
			Platform: platform,
			Endpoint: endpoint,
			Err:      err,
		})
	}
	if g.hook != nil {
		g.hook(&resp)
	}
	metrics.ObserveProviderRequest(string(platform), endpoint, resp.StatusCode)

	if resp.OK() {
		if err := g.governor.RecordSuccess(ctx, platform, endpoint); err != nil {
			g.logger.Warn("failed to record rate limit usage",
				zap.String("platform", string(platform)),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
		return resp, nil
	}

	pe := &crawler.ProviderError{
		Kind:       KindForStatus(resp.StatusCode),
		Platform:   platform,
		Endpoint:   endpoint,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Message:    errorMessage(resp.Body),
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		if err := g.governor.RecordRateLimited(ctx, platform, endpoint, resp.Header); err != nil {
			g.logger.Warn("failed to record rate limit response",
				zap.String("platform", string(platform)),
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
		}
		now := g.now()
		if reset, ok := ratelimit.ResetFromHeaders(platform, resp.Header, now); ok && reset.After(now) {
			pe.RetryAfter = reset.Sub(now)
		}
	}
	return resp, g.fail(pe)
}

// KindForStatus maps an HTTP status to an error kind. Only the retryable status
// set is Transient; other 5xx codes such as 501 are Fatal.
func KindForStatus(code int) crawler.ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return crawler.KindAuth
	case code == http.StatusNotFound:
		return crawler.KindNotFound
	case code == http.StatusTooManyRequests:
		return crawler.KindRateLimited
	case errclass.RetryableStatus(code):
		return crawler.KindTransient
	}
	return crawler.KindFatal
}

func (g *Gate) fail(pe *crawler.ProviderError) error {
	g.logger.Debug("provider call failed",
		zap.String("platform", string(pe.Platform)),
		zap.String("endpoint", pe.Endpoint),
		zap.String("kind", string(pe.Kind)),
		zap.Int("status", pe.StatusCode),
		zap.Error(pe),
	)
	return pe
}

// DecodeJSON unmarshals a provider body, reporting malformed payloads as Fatal.
func DecodeJSON(platform crawler.Platform, endpoint string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return &crawler.ProviderError{
			Kind:     crawler.KindFatal,
			Platform: platform,
			Endpoint: endpoint,
			Message:  "malformed response",
			Err:      err,
		}
	}
	return nil
}

// errorMessage extracts a short description from a provider error body.
func errorMessage(body []byte) string {
	var payload struct {
		Message     string `json:"message"`
		Error       any    `json:"error"`
		Detail      string `json:"detail"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, candidate := range []string{payload.Description, payload.Detail, payload.Message, payload.Title} {
			if candidate != "" {
				return candidate
			}
		}
		if s, ok := payload.Error.(string); ok && s != "" {
			return s
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorMessage {
		cut := maxErrorMessage
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	if msg == "" {
		return "unknown error"
	}
	return msg
}
