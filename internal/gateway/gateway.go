// ABOUTME: WebSocket chat gateway: inbound user messages become commands or events.
// ABOUTME: Outbound notifications fan out to connected clients.

package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helmsmanhq/helmsman/extensions/core"
	"github.com/helmsmanhq/helmsman/internal/bus"
	"github.com/helmsmanhq/helmsman/internal/command"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range []string{"localhost", "127.0.0.1", "::1"} {
			if strings.Contains(origin, allowed) {
				return true
			}
		}
		return false
	},
}

// InboundMessage is one chat message from a client.
type InboundMessage struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
	User    string `json:"user,omitempty"`
}

// OutboundMessage is one notification pushed to clients.
type OutboundMessage struct {
	Kind     string `json:"kind"`
	Title    string `json:"title"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Gateway bridges the chat surface to the command registry and event bus.
// It also implements host.NotifySink so posted notifications reach
// connected clients.
type Gateway struct {
	commands *command.Registry
	bus      *bus.Bus

	mu      sync.Mutex
	clients map[*client]struct{}
}

func New(commands *command.Registry, b *bus.Bus) *Gateway {
	return &Gateway{
		commands: commands,
		bus:      b,
		clients:  make(map[*client]struct{}),
	}
}

// Notify implements the notifier sink: fan the message out to every
// connected client.
func (g *Gateway) Notify(msg core.Notification) {
	out := OutboundMessage{
		Kind:     string(msg.Kind),
		Title:    msg.Title,
		Text:     msg.Text,
		ImageURL: msg.ImageURL,
		Channel:  msg.Channel,
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for c := range g.clients {
		select {
		case c.send <- raw:
		default:
			// Slow client: drop the frame rather than block the notifier.
		}
	}
}

// ServeHTTP upgrades the connection and manages the client lifecycle.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("gateway: upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	g.mu.Lock()
	g.clients[c] = struct{}{}
	g.mu.Unlock()

	go g.writePump(c)
	g.readPump(c)
}

func (g *Gateway) readPump(c *client) {
	defer func() {
		g.mu.Lock()
		delete(g.clients, c)
		g.mu.Unlock()
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg InboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			// A bare text frame is treated as the message text.
			msg = InboundMessage{Text: string(raw)}
		}
		g.handleMessage(msg)
	}
}

// handleMessage routes a user message: /commands dispatch through the
// registry, everything else becomes a user.message event.
func (g *Gateway) handleMessage(msg InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if strings.HasPrefix(text, "/") {
		if g.commands.Dispatch(text, msg.Channel, msg.User) {
			return
		}
	}
	g.bus.Publish(bus.Event{
		Kind: bus.KindUserMessage,
		Data: map[string]any{
			"text":    text,
			"channel": msg.Channel,
			"user":    msg.User,
		},
	})
}

func (g *Gateway) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
