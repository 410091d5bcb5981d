package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "telefeed/internal/errors"
	"telefeed/pkg/telegram/types"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewClient(server.URL, "test-api-key", server.Client(), logger)
}

func TestSendMessage_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/send", r.URL.Path)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

		var req types.SendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(333), req.Convo)

		_ = json.NewEncoder(w).Encode(types.SendMessageResponse{MsgID: 900})
	})

	resp, err := client.SendMessage(context.Background(), types.SendMessageRequest{
		Account: "acct", Convo: 333, Text: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(900), resp.MsgID)
}

func TestEditMessage_UnprocessableMapsToEditRejected(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	err := client.EditMessage(context.Background(), types.EditMessageRequest{
		Account: "acct", Convo: 333, MsgID: 900, Text: "new",
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEditRejected, apperrors.GetCode(err))
	assert.False(t, apperrors.IsRetryable(err))
}

func TestStatusCodeMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCode  apperrors.ErrorCode
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, apperrors.ErrCodeAuthRequired, false},
		{"forbidden", http.StatusForbidden, apperrors.ErrCodePermissionDenied, false},
		{"not found", http.StatusNotFound, apperrors.ErrCodeNotFound, false},
		{"rate limited", http.StatusTooManyRequests, apperrors.ErrCodePlatformUnavailable, true},
		{"bad gateway", http.StatusBadGateway, apperrors.ErrCodePlatformUnavailable, true},
		{"server error", http.StatusInternalServerError, apperrors.ErrCodePlatformUnavailable, true},
		{"bad request", http.StatusBadRequest, apperrors.ErrCodeInternalError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})

			_, err := client.SessionStatus(context.Background(), "acct")
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.GetCode(err))
			assert.Equal(t, tt.retryable, apperrors.IsRetryable(err))
		})
	}
}

func TestSendMessage_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	req := types.SendMessageRequest{Account: "acct", Convo: 333, Text: "x"}
	for i := 0; i < 5; i++ {
		_, err := client.SendMessage(context.Background(), req)
		require.Error(t, err)
	}

	// Breaker is open now; the failure is still surfaced as retryable.
	_, err := client.SendMessage(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePlatformUnavailable, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestRequestCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/request-code", r.URL.Path)
		_ = json.NewEncoder(w).Encode(types.RequestCodeResponse{
			Account: "acct", PhoneCodeHash: "hash",
		})
	})

	resp, err := client.RequestCode(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "hash", resp.PhoneCodeHash)
	assert.False(t, resp.AlreadyAuthed)
}

func TestSubmitCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req types.SubmitCodeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "12345", req.Code)
		_ = json.NewEncoder(w).Encode(types.SubmitCodeResponse{
			Status: types.SubmitStatusOK, AuthBlob: "blob",
		})
	})

	resp, err := client.SubmitCode(context.Background(), types.SubmitCodeRequest{
		Account: "acct", Code: "12345", PhoneCodeHash: "hash",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SubmitStatusOK, resp.Status)
	assert.Equal(t, "blob", resp.AuthBlob)
}

func TestLogout_NoContent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Logout(context.Background(), "acct"))
}

func TestGetEntity(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/entities/acct/333", r.URL.Path)
		_ = json.NewEncoder(w).Encode(types.Entity{ID: 333, Kind: "channel", Title: "News"})
	})

	entity, err := client.GetEntity(context.Background(), "acct", 333)
	require.NoError(t, err)
	assert.Equal(t, "News", entity.Title)
}

func TestGatewayUnreachable(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	client := NewClient("http://127.0.0.1:1", "key", nil, logger)

	_, err := client.RequestCode(context.Background(), "acct")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodePlatformUnavailable, apperrors.GetCode(err))
	assert.True(t, apperrors.IsRetryable(err))
}
