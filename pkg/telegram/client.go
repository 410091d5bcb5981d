package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "telefeed/internal/errors"
	"telefeed/pkg/circuitbreaker"
	"telefeed/pkg/telegram/types"

	"github.com/sirupsen/logrus"
)

// Client is the REST surface of the platform gateway. The gateway owns the
// MTProto connections; this client only speaks HTTP and websocket to it.
type Client interface {
	RequestCode(ctx context.Context, account string) (*types.RequestCodeResponse, error)
	SubmitCode(ctx context.Context, req types.SubmitCodeRequest) (*types.SubmitCodeResponse, error)
	RestoreSession(ctx context.Context, account, authBlob string) error
	SessionStatus(ctx context.Context, account string) (*types.SessionStatusResponse, error)
	Logout(ctx context.Context, account string) error

	SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.SendMessageResponse, error)
	EditMessage(ctx context.Context, req types.EditMessageRequest) error
	GetEntity(ctx context.Context, account string, convo int64) (*types.Entity, error)

	Subscribe(ctx context.Context, account string) (<-chan types.MessageEvent, error)
}

type GatewayClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
	breaker    *circuitbreaker.CircuitBreaker
}

func NewClient(baseURL, apiKey string, httpClient *http.Client, logger *logrus.Logger) Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &GatewayClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
		breaker:    circuitbreaker.New("gateway", 5, 30*time.Second, logger),
	}
}

// BreakerStats exposes the gateway breaker snapshot for the stats endpoint.
func (c *GatewayClient) BreakerStats() circuitbreaker.Stats {
	return c.breaker.GetStats()
}

func (c *GatewayClient) RequestCode(ctx context.Context, account string) (*types.RequestCodeResponse, error) {
	body := map[string]string{"account": account}
	var result types.RequestCodeResponse
	if err := c.postJSON(ctx, "/v1/sessions/request-code", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) SubmitCode(ctx context.Context, req types.SubmitCodeRequest) (*types.SubmitCodeResponse, error) {
	var result types.SubmitCodeResponse
	if err := c.postJSON(ctx, "/v1/sessions/submit-code", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) RestoreSession(ctx context.Context, account, authBlob string) error {
	req := types.RestoreSessionRequest{Account: account, AuthBlob: authBlob}
	return c.postJSON(ctx, "/v1/sessions/restore", req, nil)
}

func (c *GatewayClient) SessionStatus(ctx context.Context, account string) (*types.SessionStatusResponse, error) {
	var result types.SessionStatusResponse
	endpoint := "/v1/sessions/" + url.PathEscape(account)
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) Logout(ctx context.Context, account string) error {
	endpoint := "/v1/sessions/" + url.PathEscape(account)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "gateway unreachable")
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// SendMessage goes through the circuit breaker: when the gateway is down,
// deliveries fail fast instead of stacking up timeouts in the account loops.
func (c *GatewayClient) SendMessage(ctx context.Context, req types.SendMessageRequest) (*types.SendMessageResponse, error) {
	var result types.SendMessageResponse
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/messages/send", req, &result)
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			return nil, apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "gateway circuit open")
		}
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) EditMessage(ctx context.Context, req types.EditMessageRequest) error {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/messages/edit", req, nil)
	})
	if circuitbreaker.IsOpenError(err) {
		return apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "gateway circuit open")
	}
	return err
}

func (c *GatewayClient) GetEntity(ctx context.Context, account string, convo int64) (*types.Entity, error) {
	var result types.Entity
	endpoint := fmt.Sprintf("/v1/entities/%s/%d", url.PathEscape(account), convo)
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *GatewayClient) postJSON(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"endpoint": c.baseURL + path,
	}).Debug("Sending gateway request")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "gateway unreachable")
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *GatewayClient) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "gateway unreachable")
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *GatewayClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// checkStatus maps gateway status codes onto the application error taxonomy
// so callers can branch on codes instead of parsing bodies.
func (c *GatewayClient) checkStatus(resp *http.Response) error {
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	msg := fmt.Sprintf("gateway error: status %d, body: %s", resp.StatusCode, string(bodyBytes))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return apperrors.New(apperrors.ErrCodeAuthRequired, msg)
	case http.StatusForbidden:
		return apperrors.New(apperrors.ErrCodePermissionDenied, msg)
	case http.StatusNotFound:
		return apperrors.New(apperrors.ErrCodeNotFound, msg)
	case http.StatusUnprocessableEntity:
		return apperrors.New(apperrors.ErrCodeEditRejected, msg)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apperrors.WrapRetryable(fmt.Errorf("%s", msg), apperrors.ErrCodePlatformUnavailable, "gateway temporarily unavailable")
	default:
		if resp.StatusCode >= 500 {
			return apperrors.WrapRetryable(fmt.Errorf("%s", msg), apperrors.ErrCodePlatformUnavailable, "gateway error")
		}
		return apperrors.New(apperrors.ErrCodeInternalError, msg)
	}
}
