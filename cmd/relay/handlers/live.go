package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
	pingEvery = (pongWait * 9) / 10
)

// Live pushes the store's snapshot to websocket viewers.
type Live struct {
	Store    *Store
	Interval time.Duration

	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*sync.Mutex
}

func NewLive(store *Store) *Live {
	return &Live{
		Store:    store,
		Interval: time.Second,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*sync.Mutex),
	}
}

func (l *Live) Handler(c *gin.Context) {
	conn, err := l.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	writeMu := &sync.Mutex{}
	l.mu.Lock()
	l.clients[conn] = writeMu
	l.mu.Unlock()
	slog.Info("Viewer connected", "ip", c.ClientIP(), "viewers", l.Clients())

	_ = l.write(conn, writeMu, websocket.TextMessage, l.payload())

	go func() {
		done := make(chan struct{})
		go func() {
			ticker := time.NewTicker(pingEvery)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := l.write(conn, writeMu, websocket.PingMessage, nil); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}()
		defer close(done)
		defer l.remove(conn)
		for {
			// Viewers only read; drain control frames.
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Run broadcasts a snapshot every Interval until ctx is cancelled.
func (l *Live) Run(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.closeAll()
			return
		case <-ticker.C:
			l.Broadcast()
		}
	}
}

func (l *Live) Broadcast() {
	payload := l.payload()
	if payload == nil {
		return
	}
	l.mu.Lock()
	clients := make(map[*websocket.Conn]*sync.Mutex, len(l.clients))
	for conn, writeMu := range l.clients {
		clients[conn] = writeMu
	}
	l.mu.Unlock()

	var stale []*websocket.Conn
	for conn, writeMu := range clients {
		if err := l.write(conn, writeMu, websocket.TextMessage, payload); err != nil {
			stale = append(stale, conn)
		}
	}
	for _, conn := range stale {
		l.remove(conn)
	}
}

func (l *Live) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *Live) payload() []byte {
	data, err := json.Marshal(l.Store.Snapshot())
	if err != nil {
		slog.Error("Failed to encode snapshot", "error", err)
		return nil
	}
	return data
}

func (l *Live) remove(conn *websocket.Conn) {
	l.mu.Lock()
	_, ok := l.clients[conn]
	delete(l.clients, conn)
	l.mu.Unlock()
	if ok {
		slog.Debug("Viewer disconnected")
	}
	conn.Close()
}

func (l *Live) closeAll() {
	l.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(l.clients))
	for conn := range l.clients {
		conns = append(conns, conn)
	}
	l.mu.Unlock()
	for _, conn := range conns {
		l.remove(conn)
	}
}

func (l *Live) write(conn *websocket.Conn, writeMu *sync.Mutex, messageType int, payload []byte) error {
	writeMu.Lock()
	defer writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(messageType, payload)
}
