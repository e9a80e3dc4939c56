package hub

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/zagdebate/backend/internal/apperr"
	"github.com/zagdebate/backend/internal/config"
	"github.com/zagdebate/backend/internal/metrics"
	"github.com/zagdebate/backend/internal/models"
)

// Authenticator resolves the token query parameter. It never fails; bad
// credentials come back as an anonymous identity.
type Authenticator interface {
	Resolve(ctx context.Context, token string) models.Identity
}

// Membership decides whether a user may open a socket to a room.
type Membership interface {
	CanConnect(ctx context.Context, roomID int64, userID string) error
}

// Hub accepts debate sockets, authorizes them and wires them to their
// room's broadcast group. It keeps only connection bookkeeping.
type Hub struct {
	cfg      config.HubConfig
	auth     Authenticator
	rooms    Membership
	router   *Router
	bc       Broadcaster
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closing  bool
	conns    map[int64]map[*Conn]struct{}
	presence map[int64]map[string]int
}

func New(cfg config.HubConfig, auth Authenticator, rooms Membership, messages MessageStore, bc Broadcaster) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		auth:   auth,
		rooms:  rooms,
		router: NewRouter(messages, bc, cfg.MaxSignalSize),
		bc:     bc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[int64]map[*Conn]struct{}),
		presence: make(map[int64]map[string]int),
	}
}

// ServeWS handles GET /ws/debates/{room_id}/?token=... and blocks until the
// connection is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID, err := strconv.ParseInt(chi.URLParam(r, "room_id"), 10, 64)
	if err != nil || roomID <= 0 {
		http.Error(w, "invalid debate id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "hub").Msg("upgrade failed")
		return
	}

	who := h.auth.Resolve(r.Context(), r.URL.Query().Get("token"))
	if !who.Authenticated {
		h.reject(ws, CloseUnauthenticated, "unauthenticated", "authentication required")
		return
	}
	if err := h.rooms.CanConnect(r.Context(), roomID, who.UserID); err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindRetryable, apperr.KindInvariant:
			log.Error().Err(err).Str("module", "hub").Int64("room_id", roomID).Msg("membership check failed")
			h.reject(ws, websocket.CloseInternalServerErr, "error", "try again later")
		default:
			h.reject(ws, CloseForbidden, "forbidden", apperr.From(err).Detail)
		}
		return
	}

	c := newConn(ws, roomID, who, h.cfg)
	first, ok := h.track(c)
	if !ok {
		h.reject(ws, websocket.CloseGoingAway, "shutdown", "server shutting down")
		return
	}
	defer h.wg.Done()

	if err := h.bc.Subscribe(h.ctx, GroupName(roomID), c); err != nil {
		log.Error().Err(err).Str("module", "hub").Int64("room_id", roomID).Msg("subscribe failed")
		h.untrack(c)
		h.reject(ws, websocket.CloseInternalServerErr, "error", "try again later")
		return
	}
	log.Info().Str("module", "hub").Str("conn", c.ID()).Str("user", who.UserID).
		Int64("room_id", roomID).Msg("connection joined")
	if first {
		h.announce(h.ctx, roomID, fmt.Sprintf("%s joined the debate", who.Username))
	}

	go c.writePump()
	c.readPump(h.ctx, h.router.Route)
	<-c.writerDone

	h.bc.Unsubscribe(GroupName(roomID), c)
	if last := h.untrack(c); last {
		h.announce(context.WithoutCancel(h.ctx), roomID, fmt.Sprintf("%s left the debate", who.Username))
	}
	log.Info().Str("module", "hub").Str("conn", c.ID()).Str("user", who.UserID).
		Int64("room_id", roomID).Int("code", c.closeCode).Msg("connection closed")
}

func (h *Hub) reject(ws *websocket.Conn, code int, reason, text string) {
	metrics.HubRejectionsTotal.WithLabelValues(reason).Inc()
	msg := websocket.FormatCloseMessage(code, text)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	_ = ws.Close()
}

func (h *Hub) announce(ctx context.Context, roomID int64, text string) {
	if err := h.bc.Publish(ctx, GroupName(roomID), systemEvent(text)); err != nil {
		log.Warn().Err(err).Str("module", "hub").Int64("room_id", roomID).Msg("announce failed")
	}
}

// track registers c and reports whether it is the user's first connection to
// the room. It refuses new connections once shutdown has begun.
func (h *Hub) track(c *Conn) (first, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false, false
	}
	h.wg.Add(1)

	if h.conns[c.roomID] == nil {
		h.conns[c.roomID] = make(map[*Conn]struct{})
		h.presence[c.roomID] = make(map[string]int)
	}
	h.conns[c.roomID][c] = struct{}{}
	h.presence[c.roomID][c.identity.UserID]++
	metrics.HubConnections.Inc()
	return h.presence[c.roomID][c.identity.UserID] == 1, true
}

// untrack reports whether c was the user's last connection to the room.
func (h *Hub) untrack(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.conns[c.roomID]
	if !ok {
		return false
	}
	if _, ok := conns[c]; !ok {
		return false
	}
	delete(conns, c)
	metrics.HubConnections.Dec()

	users := h.presence[c.roomID]
	users[c.identity.UserID]--
	last := users[c.identity.UserID] <= 0
	if last {
		delete(users, c.identity.UserID)
	}
	if len(conns) == 0 {
		delete(h.conns, c.roomID)
		delete(h.presence, c.roomID)
	}
	return last
}

// Online lists the users with at least one open connection to a room.
func (h *Hub) Online(roomID int64) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.presence[roomID]))
	for id := range h.presence[roomID] {
		out = append(out, id)
	}
	return out
}

// Disconnect closes a room's connections with 4003. An empty userID closes
// every connection in the room. It returns how many were closed.
func (h *Hub) Disconnect(roomID int64, userID string) int {
	h.mu.Lock()
	var victims []*Conn
	for c := range h.conns[roomID] {
		if userID == "" || c.identity.UserID == userID {
			victims = append(victims, c)
		}
	}
	h.mu.Unlock()

	for _, c := range victims {
		c.Kick(CloseForbidden, "no longer a participant")
	}
	return len(victims)
}

// Shutdown closes every connection with 1001 and waits for their cleanup.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	var all []*Conn
	for _, room := range h.conns {
		for c := range room {
			all = append(all, c)
		}
	}
	h.mu.Unlock()

	for _, c := range all {
		c.Kick(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	defer h.cancel()

	select {
	case <-done:
		log.Info().Str("module", "hub").Int("connections", len(all)).Msg("hub drained")
		return h.bc.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}
