package license

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"telefeed/internal/constants"
	apperrors "telefeed/internal/errors"
	"telefeed/internal/models"
)

// Licenser answers entitlement questions for an account. Redirection slots
// are a consumable quota: adding a rule consumes one, removing a rule
// releases it.
type Licenser interface {
	HasAccess(ctx context.Context, account string) (bool, error)
	RemainingRedirectionQuota(ctx context.Context, account string) (int, error)
	ConsumeRedirectionSlot(ctx context.Context, account string) error
	ReleaseRedirectionSlot(ctx context.Context, account string) error
}

// NewLicenser returns the HTTP-backed client, or the allow-all implementation
// when the configuration opts out of license enforcement.
func NewLicenser(cfg models.LicenseConfig) Licenser {
	if cfg.AllowAll {
		return &allowAll{}
	}
	return &client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPTimeoutSec * time.Second,
		},
	}
}

// allowAll grants every account unlimited redirections. Used in development
// and self-hosted deployments.
type allowAll struct{}

func (a *allowAll) HasAccess(ctx context.Context, account string) (bool, error) {
	return true, nil
}

func (a *allowAll) RemainingRedirectionQuota(ctx context.Context, account string) (int, error) {
	return int(^uint(0) >> 1), nil
}

func (a *allowAll) ConsumeRedirectionSlot(ctx context.Context, account string) error {
	return nil
}

func (a *allowAll) ReleaseRedirectionSlot(ctx context.Context, account string) error {
	return nil
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type accessResponse struct {
	Active    bool `json:"active"`
	Remaining int  `json:"remaining"`
}

func (c *client) HasAccess(ctx context.Context, account string) (bool, error) {
	resp, err := c.get(ctx, "/v1/access/"+url.PathEscape(account))
	if err != nil {
		return false, err
	}
	return resp.Active, nil
}

func (c *client) RemainingRedirectionQuota(ctx context.Context, account string) (int, error) {
	resp, err := c.get(ctx, "/v1/quota/"+url.PathEscape(account))
	if err != nil {
		return 0, err
	}
	return resp.Remaining, nil
}

func (c *client) ConsumeRedirectionSlot(ctx context.Context, account string) error {
	return c.post(ctx, "/v1/quota/"+url.PathEscape(account)+"/consume")
}

func (c *client) ReleaseRedirectionSlot(ctx context.Context, account string) error {
	return c.post(ctx, "/v1/quota/"+url.PathEscape(account)+"/release")
}

func (c *client) get(ctx context.Context, path string) (*accessResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "license service unreachable")
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var result accessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode license response: %w", err)
	}
	return &result, nil
}

func (c *client) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "license service unreachable")
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func (c *client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusConflict:
		return apperrors.New(apperrors.ErrCodeQuotaExceeded, "no redirection slots remaining")
	case resp.StatusCode == http.StatusForbidden:
		return apperrors.New(apperrors.ErrCodePermissionDenied, "license denied for account")
	case resp.StatusCode >= 500:
		return apperrors.WrapRetryable(
			fmt.Errorf("license service returned status %d", resp.StatusCode),
			apperrors.ErrCodePlatformUnavailable, "license service error",
		)
	case resp.StatusCode >= 400:
		return apperrors.New(apperrors.ErrCodeInternalError,
			fmt.Sprintf("license service returned status %d", resp.StatusCode))
	}
	return nil
}
