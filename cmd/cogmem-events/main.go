// cogmem-events runs a WebSocket fan-out server over the cogmem event bus,
// realizing the spec's "WebSocket-style channel" for dashboard-style
// observers (the brain visualizer, the ontology graph) without embedding
// any rendering logic here — this process only relays {type, timestamp,
// data} JSON frames.
//
// Environment variables:
//
//	COGMEM_DB_PATH    — SQLite database path (default: platform data dir)
//	COGMEM_PROJECT    — explicit project scope
//	COGMEM_EVENTS_ADDR — listen address (default: ":8787")
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	cogmem "github.com/cogmem/cogmem"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeTimeout = 5 * time.Second

type wireEvent struct {
	Type      cogmem.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

// hub tracks every connected websocket client and fans each bus event out to
// all of them, dropping a client whose write blocks rather than stalling
// the rest.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *hub) add(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
}

func (h *hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.Close()
}

func (h *hub) broadcast(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, frame); err != nil {
			delete(h.clients, c)
			c.Close()
		}
	}
}

func main() {
	cfg := cogmem.Config{
		DBPath:  os.Getenv("COGMEM_DB_PATH"),
		Project: os.Getenv("COGMEM_PROJECT"),
	}
	svc, err := cogmem.Init(cfg)
	if err != nil {
		log.Fatalf("cogmem init: %v", err)
	}

	addr := os.Getenv("COGMEM_EVENTS_ADDR")
	if addr == "" {
		addr = ":8787"
	}

	h := newHub()
	events, unsubscribe := svc.Subscribe()

	go func() {
		for e := range events {
			frame, err := json.Marshal(wireEvent{Type: e.Type, Timestamp: e.Timestamp, Data: e.Data})
			if err != nil {
				continue
			}
			h.broadcast(frame)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("upgrade: %v", err)
			return
		}
		h.add(conn)
		defer h.remove(conn)

		// Drain and discard inbound frames; this channel is write-only from
		// the server's perspective, but we must keep reading to notice a
		// closed connection.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("cogmem-events listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)
	unsubscribe()
	svc.Shutdown(ctx)
}
