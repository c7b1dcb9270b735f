package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/mikey/mail-risk/internal/core"
	"go.uber.org/zap"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamFrame is one websocket message of a narrative stream
type StreamFrame struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Error   string `json:"error,omitempty"`
}

const (
	frameChunk = "chunk"
	frameDone  = "done"
)

// StreamWS serves the narrative over a websocket, one chunk frame per fragment and a final done frame.
// Closing the socket cancels the stream like a dropped HTTP connection.
func (h *AnalysisHandler) StreamWS(c *gin.Context) {
	owner, id := ownerID(c), c.Param("id")

	if _, err := h.service.Get(c.Request.Context(), owner, id); err != nil {
		h.writeError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.String("analysis_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// The client only sends control frames; a read error means it went away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	sink := &wsSink{conn: conn}
	outcome, err := h.service.Stream(ctx, owner, id, sink)

	done := StreamFrame{Type: frameDone, Outcome: string(outcome)}
	if err != nil {
		done.Error = err.Error()
		if !errors.Is(err, core.ErrAnalysisFailed) {
			h.logger.Warn("WebSocket stream interrupted", zap.String("analysis_id", id),
				zap.String("outcome", string(outcome)), zap.Error(err))
		}
	}
	if ctx.Err() != nil {
		return
	}
	if werr := sink.write(done); werr != nil {
		h.logger.Debug("Failed to send final frame", zap.String("analysis_id", id), zap.Error(werr))
		return
	}
	sink.mu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteTimeout))
	sink.mu.Unlock()
}

// wsSink writes narrative chunks as JSON frames
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) WriteChunk(chunk string) error {
	return s.write(StreamFrame{Type: frameChunk, Text: chunk})
}

func (s *wsSink) write(f StreamFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}
