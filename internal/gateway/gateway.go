package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// TokenSource yields the persisted bearer token, or "" when the client is
// unauthenticated. The session package owns all writes to it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Doer executes one logical API request. Components depend on this
// interface so tests can substitute the transport.
type Doer interface {
	Do(ctx context.Context, method, path string, query url.Values, body, out any) error
}

type Config struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     *zap.Logger

	// OnAuthReject is called after any 401 response, so the session can be
	// cleared centrally. Optional.
	OnAuthReject func()
}

// Gateway executes requests against the marketplace API with bearer
// injection and uniform error classification. It never retries on its own;
// retry policy belongs to callers. Idempotent reads are routed through a
// circuit breaker so a failing backend is not hammered by catalog polling.
type Gateway struct {
	baseURL      string
	httpClient   *http.Client
	tokens       TokenSource
	log          *zap.Logger
	reads        *gobreaker.CircuitBreaker[[]byte]
	onAuthReject func()
}

func New(cfg Config) (*Gateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("BaseURL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	g := &Gateway{
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		tokens:       cfg.Tokens,
		log:          log,
		onAuthReject: cfg.OnAuthReject,
	}
	g.reads = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "marketplace-reads",
		Timeout: 15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Only transport failures and 5xx count against the breaker;
			// 4xx means the backend is alive and answering.
			var ge *Error
			if errors.As(err, &ge) {
				return ge.Kind != KindNetwork && ge.Kind != KindServer
			}
			return err == nil
		},
	})
	return g, nil
}

// Do executes method path with the given query and JSON body, decoding a
// 2xx response into out (out may be nil). The returned error is always a
// *Error for failed requests.
func (g *Gateway) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var raw []byte
	var err error
	if method == http.MethodGet {
		raw, err = g.reads.Execute(func() ([]byte, error) {
			return g.roundTrip(ctx, method, path, query, body)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &Error{Kind: KindNetwork, Err: err}
		}
	} else {
		raw, err = g.roundTrip(ctx, method, path, query, body)
	}
	if err != nil {
		return err
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Kind: KindNetwork, Message: "malformed response body", Err: err}
	}
	return nil
}

func (g *Gateway) roundTrip(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	reqURL := g.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: "unencodable request body", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.tokens != nil {
		token, err := g.tokens.Token(ctx)
		if err != nil {
			g.log.Warn("token store read failed", zap.Error(err))
		} else if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}

	gerr := &Error{
		Kind:    classify(resp.StatusCode),
		Status:  resp.StatusCode,
		Message: errorDetail(raw),
	}
	g.log.Debug("request rejected",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))
	if resp.StatusCode == http.StatusUnauthorized && g.onAuthReject != nil {
		g.onAuthReject()
	}
	return nil, gerr
}

// errorDetail pulls the human-readable message out of an error payload.
func errorDetail(raw []byte) string {
	var payload struct {
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.Detail != "" {
		return payload.Detail
	}
	return payload.Error
}
