package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"bothost/internal/auth"
	"bothost/internal/botfs"
	"bothost/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxClientFrame = 512
	sendQueue      = 256
)

// ReplaySource hands out the buffered tail of a bot while emission is held,
// so subscribing inside fn neither loses nor repeats entries.
type ReplaySource interface {
	Attach(botID string, n int, fn func(replay []models.LogEntry))
}

// Authenticator verifies the handshake request.
type Authenticator interface {
	Authenticate(r *http.Request, allowQuery bool) (*auth.Principal, error)
}

type Options struct {
	ReplaySize   int
	MaxPerIP     int
	PingInterval time.Duration
}

// Gateway upgrades /ws requests and streams log entries to them.
type Gateway struct {
	hub      *Hub
	replay   ReplaySource
	authn    Authenticator
	upgrader websocket.Upgrader
	opts     Options
	log      logrus.FieldLogger
}

// NewGateway builds the gateway. allowOrigin decides browser origins,
// requests without an Origin header are always accepted.
func NewGateway(hub *Hub, replay ReplaySource, authn Authenticator, allowOrigin func(string) bool, opts Options, log logrus.FieldLogger) *Gateway {
	if opts.ReplaySize <= 0 {
		opts.ReplaySize = 50
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	return &Gateway{
		hub:    hub,
		replay: replay,
		authn:  authn,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowOrigin == nil || allowOrigin(origin)
			},
		},
		opts: opts,
		log:  log.WithField("component", "ws"),
	}
}

// Handle serves GET /ws?botId=<id>.
func (g *Gateway) Handle(c *gin.Context) {
	if g.authn != nil {
		if _, err := g.authn.Authenticate(c.Request, true); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}
	botID := c.Query("botId")
	if botID != "" && !botfs.ValidID(botID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrInvalidBotID.Error()})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already wrote the HTTP error
		g.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	ip := c.ClientIP()
	if !g.hub.acquire(ip, g.opts.MaxPerIP) {
		g.log.WithFields(logrus.Fields{"ip": ip, "limit": g.opts.MaxPerIP}).Warn("too many websocket connections")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	cl := &client{
		conn:  conn,
		botID: botID,
		ip:    ip,
		send:  make(chan []byte, g.opts.ReplaySize+sendQueue),
		done:  make(chan struct{}),
	}
	cl.alive.Store(true)

	if botID == "" {
		g.hub.add(cl)
	} else {
		g.replay.Attach(botID, g.opts.ReplaySize, func(replay []models.LogEntry) {
			for _, e := range replay {
				if msg, err := json.Marshal(e); err == nil {
					cl.enqueue(msg)
				}
			}
			g.hub.add(cl)
		})
	}
	g.log.WithFields(logrus.Fields{"ip": ip, "bot_id": botID}).Debug("websocket connected")

	go g.writePump(cl)
	g.readPump(cl)
}

// readPump consumes client frames so control frames (pong, close) are
// processed. Data frames are ignored.
func (g *Gateway) readPump(c *client) {
	defer func() {
		g.hub.remove(c)
		c.close()
		g.log.WithFields(logrus.Fields{"ip": c.ip, "bot_id": c.botID}).Debug("websocket disconnected")
	}()

	c.conn.SetReadLimit(maxClientFrame)
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (g *Gateway) writePump(c *client) {
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// Run pings every socket each interval and terminates the ones that did not
// answer the previous ping. On shutdown all sockets are closed.
func (g *Gateway) Run(ctx context.Context) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-ctx.Done():
			for _, c := range g.hub.snapshot() {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(time.Second))
				c.close()
			}
			return
		}
	}
}

func (g *Gateway) sweep() {
	for _, c := range g.hub.snapshot() {
		if !c.alive.Swap(false) {
			g.log.WithField("ip", c.ip).Debug("websocket missed ping, terminating")
			c.close()
			continue
		}
		if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
			c.close()
		}
	}
}
