package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halocam/livedemo/internal/log"
)

// PushClient consumes the server-pushed real-time detection channel and feeds
// it into a Bus. The channel has no acknowledgment or backpressure contract;
// transient decode errors are logged and swallowed.
type PushClient struct {
	url    string
	dialer *websocket.Dialer
}

func NewPushClient(url string) *PushClient {
	return &PushClient{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

type subscribeMessage struct {
	CameraID string `json:"camera_id"`
}

// Run dials the push channel, subscribes to cameraID and pumps events into bus
// until ctx is cancelled or the connection drops.
func (p *PushClient) Run(ctx context.Context, cameraID string, bus *Bus) error {
	logger := log.WithComponentFromContext(ctx, "push").With().
		Str(log.FieldCameraID, cameraID).Logger()

	conn, _, err := p.dialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("push: dial %s: %w", p.url, err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{CameraID: cameraID}); err != nil {
		return fmt.Errorf("push: subscribe: %w", err)
	}
	logger.Info().Str("url", p.url).Msg("push channel subscribed")

	// Unblock the read loop when ctx is cancelled.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("push: read: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn().Err(err).Msg("discarding malformed detection event")
			continue
		}
		if ev.CameraID == "" {
			ev.CameraID = cameraID
		}
		bus.Publish(OriginPush, ev)
	}
}
