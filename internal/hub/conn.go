package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const errRateLimited = "rate limit exceeded"

// Conn is one joined socket. The read pump is the only goroutine that routes
// its frames, so a connection never handles two frames at once. Everything
// it receives goes through send and the write pump.
type Conn struct {
	id       string
	roomID   int64
	identity models.Identity
	ws       *websocket.Conn
	cfg      config.HubConfig
	limiter  *rate.Limiter

	send       chan []byte
	done       chan struct{}
	writerDone chan struct{}

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newConn(ws *websocket.Conn, roomID int64, who models.Identity, cfg config.HubConfig) *Conn {
	burst := cfg.FrameBurst
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if cfg.FramesPerSec > 0 {
		limit = rate.Limit(cfg.FramesPerSec)
	}
	buf := cfg.SendBuffer
	if buf <= 0 {
		buf = 64
	}
	return &Conn{
		id:         uuid.NewString(),
		roomID:     roomID,
		identity:   who,
		ws:         ws,
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, burst),
		send:       make(chan []byte, buf),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

func (c *Conn) ID() string                { return c.id }
func (c *Conn) RoomID() int64             { return c.roomID }
func (c *Conn) Identity() models.Identity { return c.identity }

// Deliver queues an event for the client. A connection never receives its own
// signals back. A full queue means the client is too slow and it is dropped.
func (c *Conn) Deliver(ev *Event) {
	if ev.Type == TypeSignal && ev.Origin == c.id {
		return
	}
	frame, err := ev.Frame()
	if err != nil {
		log.Error().Err(err).Str("module", "hub").Str("conn", c.id).Msg("encode event")
		return
	}
	if err := c.TrySend(frame); errors.Is(err, ErrBackpressure) {
		metrics.HubDroppedTotal.Inc()
		log.Warn().Str("module", "hub").Str("conn", c.id).Str("user", c.identity.UserID).
			Msg("send queue full, dropping connection")
		c.Kick(websocket.ClosePolicyViolation, "too slow")
	}
}

func (c *Conn) TrySend(frame []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Conn) sendError(msg string) {
	b, err := json.Marshal(errorFrame{Type: TypeError, Error: msg})
	if err != nil {
		return
	}
	_ = c.TrySend(b)
}

// Kick asks the write pump to close the socket with code. Only the first
// call has any effect.
func (c *Conn) Kick(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *Conn) readPump(ctx context.Context, route func(context.Context, *Conn, []byte) error) {
	defer c.Kick(websocket.CloseNormalClosure, "")

	if c.cfg.ReadLimit > 0 {
		c.ws.SetReadLimit(c.cfg.ReadLimit)
	}
	if c.cfg.PongWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		})
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Str("module", "hub").Str("conn", c.id).Msg("readPump read error")
			}
			return
		}
		select {
		case <-c.done:
			return
		default:
		}

		if !c.limiter.Allow() {
			metrics.HubFramesTotal.WithLabelValues("rate_limited").Inc()
			c.sendError(errRateLimited)
			continue
		}
		if err := route(ctx, c, data); err != nil {
			c.sendError(err.Error())
		}
	}
}

func (c *Conn) writePump() {
	defer close(c.writerDone)

	var ping <-chan time.Time
	if c.cfg.PingPeriod > 0 {
		ticker := time.NewTicker(c.cfg.PingPeriod)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-c.done:
			c.drain()
			msg := websocket.FormatCloseMessage(c.closeCode, c.closeReason)
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeWait()))
			_ = c.ws.Close()
			return
		case frame := <-c.send:
			if err := c.write(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("module", "hub").Str("conn", c.id).Msg("writePump write error")
				c.Kick(websocket.CloseAbnormalClosure, "")
				_ = c.ws.Close()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.Kick(websocket.CloseAbnormalClosure, "")
				_ = c.ws.Close()
				return
			}
		}
	}
}

// drain flushes what is already queued so an error frame sent just before a
// kick still reaches the client.
func (c *Conn) drain() {
	for {
		select {
		case frame := <-c.send:
			if c.write(websocket.TextMessage, frame) != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(kind int, data []byte) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait())); err != nil {
		return err
	}
	return c.ws.WriteMessage(kind, data)
}

func (c *Conn) writeWait() time.Duration {
	if c.cfg.WriteWait > 0 {
		return c.cfg.WriteWait
	}
	return 10 * time.Second
}
