package ws

import (
	"context"
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/obiente/translate/relay/internal/metrics"
	"github.com/obiente/translate/relay/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type Server struct {
	ctx      context.Context
	upgrader websocket.Upgrader
	handler  *session.Handler
	metrics  *metrics.Metrics
	maxSize  int64
}

// NewServer serves sessions with h. ctx is the process lifetime; sessions
// pass it to external calls instead of the request context.
func NewServer(ctx context.Context, h *session.Handler, m *metrics.Metrics, maxMessageSize int64) *Server {
	return &Server{
		ctx: ctx,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024 * 16,
			WriteBufferSize: 1024 * 16,
		},
		handler: h,
		metrics: m,
		maxSize: maxMessageSize,
	}
}

func (s *Server) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	if s.maxSize > 0 {
		conn.SetReadLimit(s.maxSize)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	id := uuid.NewString()
	clog := log.With().Str("session", id).Str("remote", r.RemoteAddr).Logger()
	clog.Info().Msg("client connected")

	s.metrics.SessionsTotal.Inc()
	s.metrics.ActiveSessions.Inc()
	defer s.metrics.ActiveSessions.Dec()

	done := make(chan struct{})
	defer close(done)
	go keepalive(conn, done)

	err = s.handler.Serve(s.ctx, id, &deadlineConn{Conn: conn})

	var pe *session.ProtocolError
	switch {
	case errors.As(err, &pe):
		s.metrics.ProtocolErrors.Inc()
		clog.Warn().Err(err).Msg("closing session")
		msg := websocket.FormatCloseMessage(websocket.CloseProtocolError, truncate(pe.Reason, 120))
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		clog.Info().Msg("client disconnected")
	default:
		clog.Warn().Err(err).Msg("session ended")
	}
}

// keepalive pings the client so idle sessions between chunks stay open.
// WriteControl may run concurrently with the session's writes.
func keepalive(conn *websocket.Conn, done <-chan struct{}) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// deadlineConn restarts the read deadline before each read, so time spent
// processing a chunk does not count against the client.
type deadlineConn struct {
	*websocket.Conn
}

func (c *deadlineConn) ReadMessage() (int, []byte, error) {
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	return c.Conn.ReadMessage()
}

func (c *deadlineConn) WriteMessage(messageType int, data []byte) error {
	_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteMessage(messageType, data)
}

// truncate cuts s to at most n bytes without splitting a rune; close reasons
// must be valid UTF-8.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
