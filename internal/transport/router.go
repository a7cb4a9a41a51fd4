package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// routerFrame is the request/reply wrapper carried over the router
// socket. ID correlates a reply to its request; Topic selects the
// handler on the receiving side.
type routerFrame struct {
	ID      uint64 `msgpack:"id"`
	Topic   string `msgpack:"topic"`
	Payload []byte `msgpack:"payload"`
	IsReply bool   `msgpack:"isReply"`
	Err     string `msgpack:"err,omitempty"`
}

// Handler answers a router request and returns the reply payload.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Router is the request/reply endpoint. One Router serves
// every inbound peer connection at /cluster/router; handlers are
// registered once, at startup, via Handle.
type Router struct {
	log      *zap.Logger
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter builds an empty Router; register handlers with Handle
// before serving traffic.
func NewRouter(log *zap.Logger) *Router {
	return &Router{log: log, handlers: make(map[string]Handler)}
}

// Handle registers the handler invoked for requests on topic.
func (r *Router) Handle(topic string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[topic] = h
}

// ServeHTTP upgrades an inbound peer connection and serves requests
// on it until the connection closes. Mount at /cluster/router.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("router upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame routerFrame
		if err := msgpack.Unmarshal(data, &frame); err != nil {
			r.log.Warn("discarding malformed router frame", zap.Error(err))
			continue
		}
		go r.dispatch(conn, frame)
	}
}

func (r *Router) dispatch(conn *websocket.Conn, frame routerFrame) {
	r.mu.RLock()
	h, ok := r.handlers[frame.Topic]
	r.mu.RUnlock()

	reply := routerFrame{ID: frame.ID, IsReply: true}
	if !ok {
		reply.Err = fmt.Sprintf("no handler for topic %q", frame.Topic)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		payload, err := h(ctx, frame.Payload)
		cancel()
		if err != nil {
			reply.Err = err.Error()
		} else {
			reply.Payload = payload
		}
	}

	data, err := msgpack.Marshal(reply)
	if err != nil {
		r.log.Error("marshal router reply", zap.Error(err))
		return
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		r.log.Warn("router reply write failed", zap.Error(err))
	}
}

// RouterClient is the caller side of one peer's router socket: it
// sends a request frame and waits for the correlated reply.
type RouterClient struct {
	conn    *websocket.Conn
	log     *zap.Logger
	nextID  atomic.Uint64
	mu      sync.Mutex
	pending map[uint64]chan routerFrame
	closed  chan struct{}
}

// NewRouterClient wraps an already-dialed connection to a peer's
// router endpoint and starts its read loop.
func NewRouterClient(conn *websocket.Conn, log *zap.Logger) *RouterClient {
	c := &RouterClient{
		conn:    conn,
		log:     log,
		pending: make(map[uint64]chan routerFrame),
		closed:  make(chan struct{}),
	}
	go c.readLoop()
	return c
}

func (c *RouterClient) readLoop() {
	defer close(c.closed)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var frame routerFrame
		if err := msgpack.Unmarshal(data, &frame); err != nil {
			c.log.Warn("discarding malformed router reply", zap.Error(err))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[frame.ID]
		if ok {
			delete(c.pending, frame.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- frame
		}
	}
}

// Request sends a request on topic and blocks for the reply or ctx's
// deadline, whichever comes first.
func (c *RouterClient) Request(ctx context.Context, topic string, payload []byte) ([]byte, error) {
	id := c.nextID.Add(1)
	replyCh := make(chan routerFrame, 1)

	c.mu.Lock()
	c.pending[id] = replyCh
	c.mu.Unlock()

	data, err := msgpack.Marshal(routerFrame{ID: id, Topic: topic, Payload: payload})
	if err != nil {
		c.cancelPending(id)
		return nil, err
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.cancelPending(id)
		return nil, err
	}

	select {
	case reply := <-replyCh:
		if reply.Err != "" {
			return nil, fmt.Errorf("peer error: %s", reply.Err)
		}
		return reply.Payload, nil
	case <-ctx.Done():
		c.cancelPending(id)
		return nil, ctx.Err()
	case <-c.closed:
		c.cancelPending(id)
		return nil, fmt.Errorf("router connection closed")
	}
}

func (c *RouterClient) cancelPending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Close closes the underlying connection.
func (c *RouterClient) Close() error {
	return c.conn.Close()
}
