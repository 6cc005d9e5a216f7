package gaze

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxFrameBytes = 64 << 10

// WebSocketSource reads JSON gaze samples pushed by a browser client.
type WebSocketSource struct {
	*Broadcaster
	logger *zap.Logger
}

// NewWebSocketSource returns a source admitting at most maxRate samples per second.
func NewWebSocketSource(maxRate float64, logger *zap.Logger) *WebSocketSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketSource{Broadcaster: NewBroadcaster(maxRate), logger: logger.Named("ws-source")}
}

// Serve reads frames from conn until it closes or ctx is done. A normal
// close returns nil. Malformed frames are logged and skipped.
func (s *WebSocketSource) Serve(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameBytes)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				s.logger.Debug("client closed", zap.Int("code", closeErr.Code))
			}
			return err
		}

		samples, err := DecodeSamples(data)
		if err != nil {
			s.logger.Warn("dropping gaze frame", zap.Error(err))
			continue
		}
		for _, sample := range samples {
			s.Publish(sample)
		}
	}
}
