// Package gateway is the request/response surface to the signal service.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/newthinker/tinkclaw/internal/clock"
	"github.com/newthinker/tinkclaw/internal/core"
	"github.com/newthinker/tinkclaw/internal/credential"
	"github.com/newthinker/tinkclaw/internal/metrics"
	"github.com/newthinker/tinkclaw/internal/quota"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.tinkclaw.com"
	DefaultTimeout = 15 * time.Second
	Version        = "0.4.0"

	headerAPIKey    = "X-API-Key"
	headerRemaining = "X-RateLimit-Remaining"
	headerRequestID = "X-Request-ID"
)

// Config configures the transport.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int
	UserAgent         string
}

// Transport sends authenticated requests, gating each on the quota tracker.
// It never retries.
type Transport struct {
	client  *resty.Client
	quota   *quota.Tracker
	clock   *clock.Service
	limiter *rate.Limiter
	logger  *zap.Logger
	metrics *metrics.Registry
}

// Request describes one call.
type Request struct {
	Endpoint string // metrics label
	Method   string
	Path     string
	Query    map[string]string
	Body     any
	Result   any
	Public   bool // no credential, not quota gated
}

// NewTransport creates a transport. tracker and svc are required for
// authenticated calls.
func NewTransport(cfg Config, tracker *quota.Tracker, svc *clock.Service, logger *zap.Logger, reg *metrics.Registry) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "tinkclaw-go/" + Version
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		svc = clock.NewService(nil, nil)
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	t := &Transport{
		client:  client,
		quota:   tracker,
		clock:   svc,
		logger:  logger,
		metrics: reg,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return t
}

// Do performs req with cred. The quota slot is committed only when the
// transport confirms the request was written to the connection; calls
// that fail before that point are released and not counted.
func (t *Transport) Do(ctx context.Context, cred credential.Credential, req Request) error {
	start := time.Now()
	err := t.do(ctx, cred, req)
	t.metrics.RecordGatewayCall(req.Endpoint, outcome(err), time.Since(start).Seconds())
	return err
}

func (t *Transport) do(ctx context.Context, cred credential.Credential, req Request) error {
	gated := !req.Public && t.quota != nil
	if !req.Public && cred.IsZero() {
		return core.ErrNoCredential
	}
	if gated {
		if err := t.quota.Acquire(ctx, cred.ID); err != nil {
			return err
		}
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if gated {
				t.quota.Release(cred.ID)
			}
			return err
		}
	}

	var wrote atomic.Bool
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err == nil {
				wrote.Store(true)
			}
		},
	}

	r := t.client.R().
		SetContext(httptrace.WithClientTrace(ctx, trace)).
		SetHeader(headerRequestID, uuid.NewString())
	if !req.Public {
		r.SetHeader(headerAPIKey, cred.Secret)
	}
	if len(req.Query) > 0 {
		r.SetQueryParams(req.Query)
	}
	if req.Body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(req.Body)
	}

	if req.Method == "" {
		req.Method = http.MethodGet
	}
	method := req.Method
	resp, err := r.Execute(method, req.Path)

	if gated {
		if wrote.Load() {
			if cerr := t.quota.Commit(cred.ID); cerr != nil {
				t.logger.Warn("quota commit refused", zap.String("credential", cred.ID), zap.Error(cerr))
			}
		} else {
			t.quota.Release(cred.ID)
		}
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return core.Transient(fmt.Errorf("%s %s: %w", method, req.Path, err))
	}

	t.observe(cred, resp)
	return t.decode(cred, req, resp)
}

// observe feeds server time and remaining budget back into the clock and
// quota tracker.
func (t *Transport) observe(cred credential.Credential, resp *resty.Response) {
	if date := resp.Header().Get("Date"); date != "" {
		if ts, err := http.ParseTime(date); err == nil {
			t.clock.Observe(ts)
		}
	}
	if t.quota == nil || cred.IsZero() {
		return
	}
	if v := resp.Header().Get(headerRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			t.quota.Observe(cred.ID, n)
		}
	}
}

func (t *Transport) decode(cred credential.Credential, req Request, resp *resty.Response) error {
	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		if req.Result == nil || len(resp.Body()) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), req.Result); err != nil {
			return core.WrapError(core.ErrRejected, fmt.Errorf("decoding %s: %w", req.Path, err))
		}
		return nil
	}

	cause := fmt.Errorf("%s %s: %d %s", req.Method, req.Path, status, serviceMessage(resp.Body()))
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &core.Error{
			Code:         core.ErrAuthInvalid.Code,
			Message:      core.ErrAuthInvalid.Message,
			Cause:        cause,
			CredentialID: cred.ID,
		}
	case status == http.StatusTooManyRequests:
		if t.quota != nil && !cred.IsZero() {
			t.quota.Observe(cred.ID, 0)
		}
		e := core.QuotaExceeded(cred.ID, t.resetAt(resp))
		e.Cause = cause
		return e
	case status == http.StatusNotFound:
		return core.WrapError(core.ErrNotFound, cause)
	case status == http.StatusRequestTimeout || status >= 500:
		return core.Transient(cause)
	default:
		return core.WrapError(core.ErrRejected, cause)
	}
}

func (t *Transport) resetAt(resp *resty.Response) time.Time {
	if v := resp.Header().Get("X-RateLimit-Reset"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs > 0 {
			return time.Unix(secs, 0).UTC()
		}
	}
	if t.quota != nil {
		return t.quota.ResetAt()
	}
	return t.clock.NextDay(t.clock.Now())
}

// serviceMessage extracts the error text from a service error body.
func serviceMessage(body []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Message != "":
			return payload.Message
		case payload.Detail != "":
			return payload.Detail
		case payload.Error != nil:
			if s, ok := payload.Error.(string); ok {
				return s
			}
			if m, ok := payload.Error.(map[string]any); ok {
				if msg, ok := m["message"].(string); ok {
					return msg
				}
			}
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func outcome(err error) string {
	var e *core.Error
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &e):
		return strings.ToLower(e.Code)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
