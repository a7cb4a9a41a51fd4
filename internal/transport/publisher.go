// Package transport implements the node-to-node messaging fabric: a
// publisher socket for fan-out broadcast and a router
// socket for direct request/reply, both over websockets. Every peer
// dials every other peer's publisher (to subscribe) and router (for
// targeted queries); messages are framed as cluster.Envelope values,
// msgpack-encoded.
package transport

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dreamware/clustermesh/internal/cluster"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Publisher is the fan-out broadcast hub. Peers connect to
// /cluster/pub and receive every envelope sent through Broadcast.
// Delivery is at-most-once: a write failure drops the client and
// relies on the heartbeat mechanism in internal/node to notice.
type Publisher struct {
	log        *zap.Logger
	mu         sync.Mutex
	conns      map[*websocket.Conn]struct{}
	broadcast  chan cluster.Envelope
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewPublisher builds a Publisher. Call Run in its own goroutine
// before accepting connections.
func NewPublisher(log *zap.Logger) *Publisher {
	return &Publisher{
		log:        log,
		conns:      make(map[*websocket.Conn]struct{}),
		broadcast:  make(chan cluster.Envelope, 256),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
}

// Run is the publisher's single-goroutine event loop. It owns the
// conns map exclusively so Broadcast never races a Register/
// Unregister against a write.
func (p *Publisher) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case conn := <-p.register:
			p.conns[conn] = struct{}{}
		case conn := <-p.unregister:
			if _, ok := p.conns[conn]; ok {
				delete(p.conns, conn)
				conn.Close()
			}
		case env := <-p.broadcast:
			data, err := msgpack.Marshal(env)
			if err != nil {
				p.log.Error("marshal envelope for broadcast", zap.Error(err))
				continue
			}
			for conn := range p.conns {
				if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
					p.log.Warn("broadcast write failed, dropping peer connection", zap.Error(err))
					conn.Close()
					delete(p.conns, conn)
				}
			}
		}
	}
}

// Broadcast enqueues an envelope for fan-out. Non-blocking: a full
// queue drops the message and logs rather than stalling the caller,
// since delivery is at-most-once anyway and a state:all round
// resynchronizes.
func (p *Publisher) Broadcast(topic string, payload []byte) {
	select {
	case p.broadcast <- cluster.Envelope{Topic: topic, Payload: payload}:
	default:
		p.log.Warn("publisher broadcast queue full, dropping envelope", zap.String("topic", topic))
	}
}

// ServeHTTP upgrades an inbound peer connection and registers it for
// broadcast delivery. Mount at /cluster/pub.
func (p *Publisher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("publisher upgrade failed", zap.Error(err))
		return
	}
	p.register <- conn

	go func() {
		defer func() { p.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
