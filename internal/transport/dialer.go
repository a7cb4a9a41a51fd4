package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Peer is one connected peer's outbound handles: a subscriber
// connection to its publisher and a request/reply client for its
// router.
type Peer struct {
	UUID      string
	SubConn   *websocket.Conn
	RouterRPC *RouterClient
}

// Close tears down both sockets. Safe to call more than once.
func (p *Peer) Close() {
	if p.SubConn != nil {
		p.SubConn.Close()
	}
	if p.RouterRPC != nil {
		p.RouterRPC.Close()
	}
}

// Dial connects to one peer's publisher and router endpoints,
// returning a Peer ready for use. The caller is expected to start a
// goroutine reading p.SubConn for broadcast envelopes (see
// ReadEnvelopes).
func Dial(ctx context.Context, uuid, pubAddr, routerAddr string, log *zap.Logger) (*Peer, error) {
	subURL := url.URL{Scheme: "ws", Host: pubAddr, Path: "/cluster/pub"}
	subConn, _, err := websocket.DefaultDialer.DialContext(ctx, subURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial publisher %s: %w", pubAddr, err)
	}

	routerURL := url.URL{Scheme: "ws", Host: routerAddr, Path: "/cluster/router"}
	routerConn, _, err := websocket.DefaultDialer.DialContext(ctx, routerURL.String(), nil)
	if err != nil {
		subConn.Close()
		return nil, fmt.Errorf("dial router %s: %w", routerAddr, err)
	}

	return &Peer{
		UUID:      uuid,
		SubConn:   subConn,
		RouterRPC: NewRouterClient(routerConn, log),
	}, nil
}

// EnvelopeHandler processes one broadcast envelope received from a
// peer's publisher.
type EnvelopeHandler func(topic string, payload []byte)

// ReadEnvelopes drains p.SubConn, invoking handle for every envelope
// received, until the connection closes or stop fires.
func ReadEnvelopes(p *Peer, handle EnvelopeHandler, log *zap.Logger, stop <-chan struct{}) {
	type result struct {
		data []byte
		err  error
	}
	msgs := make(chan result)
	go func() {
		for {
			_, data, err := p.SubConn.ReadMessage()
			select {
			case msgs <- result{data, err}:
			case <-stop:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-stop:
			return
		case m := <-msgs:
			if m.err != nil {
				log.Warn("peer subscriber connection closed", zap.String("peer", p.UUID), zap.Error(m.err))
				return
			}
			var env struct {
				Topic   string `msgpack:"topic"`
				Payload []byte `msgpack:"payload"`
			}
			if err := msgpack.Unmarshal(m.data, &env); err != nil {
				log.Warn("discarding malformed envelope", zap.String("peer", p.UUID), zap.Error(err))
				continue
			}
			handle(env.Topic, env.Payload)
		}
	}
}
