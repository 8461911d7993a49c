package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KevinKickass/OpenPadCore/internal/config"
	"go.uber.org/zap"
)

const apiPrefix = "/vcpcloud/api/padApi"

var (
	// ErrEmptyTaskList is returned when an operation that starts tasks
	// answers without any task reference.
	ErrEmptyTaskList = errors.New("cloud returned no task")
	// ErrMalformedResponse marks responses that miss required fields.
	ErrMalformedResponse = errors.New("malformed cloud response")
)

// APIError is a non-success envelope code.
type APIError struct {
	Path string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud %s failed: code=%d msg=%s", e.Path, e.Code, e.Msg)
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// Client talks to the cloud phone API. It holds no per-call state and is safe
// for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *zap.Logger
}

func NewClient(cfg config.CloudConfig, logger *zap.Logger) (*Client, error) {
	ak, sk := cfg.AccessKey(), cfg.SecretKey()
	if ak == "" || sk == "" {
		return nil, fmt.Errorf("cloud credentials missing: set %s and %s", cfg.AccessKeyEnv, cfg.SecretKeyEnv)
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTP(cfg.BaseURL, NewSigner(ak, sk, cfg.Host, cfg.Service),
		&http.Client{Timeout: timeout}, logger), nil
}

func NewClientWithHTTP(baseURL string, signer *Signer, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		signer:     signer,
		logger:     logger.With(zap.String("component", "cloud")),
	}
}

// post sends a signed request and decodes the envelope's data into out (may be nil).
func (c *Client) post(ctx context.Context, op string, payload any, out any) (string, error) {
	path := apiPrefix + "/" + op

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return "", fmt.Errorf("encode %s payload: %w", op, err)
	}
	body := bytes.TrimRight(buf.Bytes(), "\n")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build %s request: %w", op, err)
	}
	c.signer.Sign(req, body)

	c.logger.Debug("cloud request", zap.String("op", op), zap.ByteString("body", body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return "", errorFromResponse(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode %s response: %w", op, err)
	}
	if env.Code != http.StatusOK {
		return env.Msg, &APIError{Path: path, Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return env.Msg, fmt.Errorf("%w: %s data: %v", ErrMalformedResponse, op, err)
		}
	}
	return env.Msg, nil
}

func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	return fmt.Errorf("cloud request %s %s failed: status=%d body=%s",
		resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
}
