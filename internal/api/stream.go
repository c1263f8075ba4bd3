package api

import (
	"bytes"
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sle-predictor-server/internal/domain"
	"github.com/sle-predictor-server/internal/middleware"
	"github.com/sle-predictor-server/internal/service"
	"github.com/sle-predictor-server/pkg/fields"
)

const (
	streamReadTimeout  = 60 * time.Second
	streamWriteTimeout = 10 * time.Second
	streamMaxMessage   = 1 << 20
)

// Stream event types.
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
)

// StreamEvent is one message sent to a stream client.
type StreamEvent struct {
	Type       string              `json:"type"`
	Progress   *service.Progress   `json:"progress,omitempty"`
	Prediction *service.Prediction `json:"prediction,omitempty"`
	Error      *domain.APIError    `json:"error,omitempty"`
}

// handleStream accepts one submission over a websocket, reports each pipeline
// stage as it starts and finishes with a result or error event.
func (s *Server) handleStream(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written an HTTP error.
		s.logger.WithFields(logFields(c)).WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.logger.WithFields(logFields(c))
	requestID := middleware.GetCorrelationID(c)

	conn.SetReadLimit(streamMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.WithError(err).Debug("Stream closed before a submission arrived")
		return
	}

	sub, err := fields.ParseSubmission(bytes.NewReader(data))
	if err != nil {
		s.writeEvent(conn, log, StreamEvent{
			Type:  EventError,
			Error: domain.NewAPIError(domain.ErrCodeInvalidInput, "malformed submission", err.Error(), requestID),
		})
		closeStream(conn)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go watchDisconnect(conn, cancel)

	prediction, err := s.predictor.Predict(ctx, sub, func(p service.Progress) {
		s.writeEvent(conn, log, StreamEvent{Type: EventProgress, Progress: &p})
	})
	if err != nil {
		_, apiErr := s.predictError(err, requestID)
		s.writeEvent(conn, log, StreamEvent{Type: EventError, Error: apiErr})
		closeStream(conn)
		return
	}

	s.writeEvent(conn, log, StreamEvent{Type: EventResult, Prediction: prediction})
	closeStream(conn)
}

func (s *Server) writeEvent(conn *websocket.Conn, log *logrus.Entry, ev StreamEvent) {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(ev); err != nil {
		log.WithError(err).WithField("event", ev.Type).Debug("Failed to write stream event")
	}
}

// watchDisconnect cancels the prediction when the client goes away. It is the
// only reader once the submission has been received.
func watchDisconnect(conn *websocket.Conn, cancel context.CancelFunc) {
	_ = conn.SetReadDeadline(time.Time{})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			cancel()
			return
		}
	}
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
