package telegram

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"telefeed/internal/constants"
	apperrors "telefeed/internal/errors"
	"telefeed/pkg/telegram/types"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// Subscribe opens the gateway's websocket event stream for one account and
// returns a channel of decoded events. The channel is closed when ctx is
// cancelled or the stream breaks; callers decide whether to resubscribe.
func (c *GatewayClient) Subscribe(ctx context.Context, account string) (<-chan types.MessageEvent, error) {
	wsURL := websocketURL(c.baseURL) + "/v1/events/" + url.PathEscape(account)

	opts := &websocket.DialOptions{}
	if c.apiKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.apiKey}}
	}

	conn, _, err := websocket.Dial(ctx, wsURL, opts)
	if err != nil {
		return nil, apperrors.WrapRetryable(err, apperrors.ErrCodePlatformUnavailable, "failed to open event stream")
	}

	events := make(chan types.MessageEvent, constants.DefaultEventBufferSize)

	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "subscription ended")

		for {
			var event types.MessageEvent
			if err := wsjson.Read(ctx, conn, &event); err != nil {
				if ctx.Err() == nil {
					c.logger.WithFields(logrus.Fields{
						"account": account,
					}).WithError(err).Warn("Event stream closed")
				}
				return
			}

			if event.Account == "" {
				event.Account = account
			}

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

func websocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
