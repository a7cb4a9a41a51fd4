package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server binds the two peer-facing endpoints on two distinct
// listeners — publisher (default :7511) and router (default :7510) —
// each behind its own single-route gorilla/mux router.
type Server struct {
	pubSrv    *http.Server
	routerSrv *http.Server
	Pub       *Publisher
	Router    *Router
}

// NewServer wires a Publisher bound to pubAddr and a Router bound to
// routerAddr. Both addresses should already be concrete (see
// ResolveBindAddr); NewServer itself does no resolution.
func NewServer(pubAddr, routerAddr string, log *zap.Logger) *Server {
	pub := NewPublisher(log)
	router := NewRouter(log)

	pubMux := mux.NewRouter()
	pubMux.Handle("/cluster/pub", pub)

	routerMux := mux.NewRouter()
	routerMux.Handle("/cluster/router", router)

	return &Server{
		pubSrv:    &http.Server{Addr: pubAddr, Handler: pubMux},
		routerSrv: &http.Server{Addr: routerAddr, Handler: routerMux},
		Pub:       pub,
		Router:    router,
	}
}

// ListenAndServe starts the publisher's event loop and both HTTP
// listeners. Blocks until either stops; call in its own goroutine.
func (s *Server) ListenAndServe(stop <-chan struct{}) error {
	go s.Pub.Run(stop)

	errCh := make(chan error, 2)
	go func() { errCh <- s.pubSrv.ListenAndServe() }()
	go func() { errCh <- s.routerSrv.ListenAndServe() }()

	err := <-errCh
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops both HTTP listeners.
func (s *Server) Shutdown(ctx context.Context) error {
	err1 := s.pubSrv.Shutdown(ctx)
	err2 := s.routerSrv.Shutdown(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}

// PubAddr and RouterAddr return the addresses each listener is
// configured to bind, exactly as passed to NewServer; no resolution is
// applied here (see ResolveBindAddr).
func (s *Server) PubAddr() string    { return s.pubSrv.Addr }
func (s *Server) RouterAddr() string { return s.routerSrv.Addr }

// ResolveBindAddr turns a configured selector into a "host:port" bind
// address: the host portion may be a literal address, a CIDR (first
// matching local interface is used), or a bare interface name. A
// selector with an empty host (":7511") or a literal IP host is
// returned unchanged.
//
// This is the one place in the codebase that reaches for net's
// interface-enumeration API directly rather than a third-party
// library: address/CIDR/interface resolution is a narrow, purely
// stdlib-shaped concern (net.Interfaces/net.ParseCIDR) that none of
// the pack's dependencies wrap — wrapping it in a library used for an
// unrelated concern (e.g. gorilla/mux) would be a worse fit than the
// short stdlib walk below. See DESIGN.md.
func ResolveBindAddr(selector string) (string, error) {
	host, port, err := net.SplitHostPort(selector)
	if err != nil {
		return "", fmt.Errorf("invalid bind selector %q: %w", selector, err)
	}

	if host == "" {
		return selector, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		return selector, nil
	}

	if _, ipnet, cidrErr := net.ParseCIDR(host); cidrErr == nil {
		addr, err := firstAddrInCIDR(ipnet)
		if err != nil {
			return "", err
		}
		return net.JoinHostPort(addr, port), nil
	}

	addr, err := firstAddrOnInterface(host)
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(addr, port), nil
}

func firstAddrInCIDR(ipnet *net.IPNet) (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil {
				continue
			}
			if ipnet.Contains(ip) {
				return ip.String(), nil
			}
		}
	}
	return "", fmt.Errorf("no local interface matches CIDR %s", ipnet.String())
}

func firstAddrOnInterface(name string) (string, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return "", fmt.Errorf("interface %q: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return "", err
	}
	for _, a := range addrs {
		ip, _, err := net.ParseCIDR(a.String())
		if err != nil {
			continue
		}
		if ip.To4() != nil && !ip.IsLoopback() {
			return ip.String(), nil
		}
	}
	return "", fmt.Errorf("interface %q has no usable address", name)
}

// normalizeAddr strips a trailing ":0" ephemeral-port marker. No code
// in this module calls it.
func normalizeAddr(addr string) string {
	return strings.TrimSuffix(addr, ":0")
}
