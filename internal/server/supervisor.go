// Package server owns the dual-listener startup sequence: bind the origin
// with port fallback, resolve the effective upstream URL, bind the proxy,
// then run both listeners until shutdown or failure.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"

	"kantara-proxy/internal/config"
	"kantara-proxy/internal/model"
	"kantara-proxy/internal/service"
)

// State is a phase of the supervisor's startup/run lifecycle.
type State int

const (
	StateIdle State = iota
	StateOriginBinding
	StateOriginBound
	StateUpstreamResolved
	StateProxyBinding
	StateProxyBound
	StateRunning
	StateTerminated
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:             "idle",
	StateOriginBinding:    "origin_binding",
	StateOriginBound:      "origin_bound",
	StateUpstreamResolved: "upstream_resolved",
	StateProxyBinding:     "proxy_binding",
	StateProxyBound:       "proxy_bound",
	StateRunning:          "running",
	StateTerminated:       "terminated",
	StateFailed:           "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// PortFinder locates an alternative port when a requested one is taken.
// Implemented by port.Allocator; tests inject fakes to exercise the bind
// state machine without touching real sockets.
type PortFinder interface {
	FindAvailable(start int) (int, bool)
}

// Shutdowner is the subset of fx.Shutdowner the supervisor needs to take
// the whole process down when one listener dies.
type Shutdowner interface {
	Shutdown(...fx.ShutdownOption) error
}

// Params collects the supervisor's dependencies from the fx graph. The two
// echo instances are distinguished by name tags.
type Params struct {
	fx.In

	Config     *config.Config
	Ports      PortFinder
	Service    *service.ForwardService
	Origin     *echo.Echo `name:"origin"`
	Proxy      *echo.Echo `name:"proxy"`
	Logger     *slog.Logger
	Shutdowner Shutdowner
}

// Supervisor binds and runs the origin and proxy listeners.
//
// Liveness is both-or-nothing: a serve failure on either listener shuts the
// whole process down rather than limping along with one side dead.
type Supervisor struct {
	cfg        *config.Config
	ports      PortFinder
	svc        *service.ForwardService
	origin     *echo.Echo
	proxy      *echo.Echo
	logger     *slog.Logger
	shutdowner Shutdowner

	// listen is net.Listen unless a test swaps it out.
	listen func(network, addr string) (net.Listener, error)

	mu            sync.Mutex
	state         State
	originOutcome model.BindOutcome
	proxyOutcome  model.BindOutcome

	serveErr chan error
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a Supervisor in the Idle state.
func New(p Params) *Supervisor {
	return &Supervisor{
		cfg:        p.Config,
		ports:      p.Ports,
		svc:        p.Service,
		origin:     p.Origin,
		proxy:      p.Proxy,
		logger:     p.Logger.With("component", "supervisor"),
		shutdowner: p.Shutdowner,
		listen:     net.Listen,
		state:      StateIdle,
		stopCh:     make(chan struct{}),
	}
}

// Run registers the supervisor with the fx lifecycle.
func Run(lc fx.Lifecycle, s *Supervisor) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.Stop,
	})
}

// Start executes the startup sequence: bind origin (with fallback), publish
// the resolved upstream target, bind proxy (with fallback), then serve both
// listeners concurrently. A bind failure is fatal and leaves the supervisor
// in the Failed state.
func (s *Supervisor) Start(_ context.Context) error {
	s.setState(StateOriginBinding)
	originLn, originOutcome, err := s.bind(s.cfg.Server.Host, s.cfg.Server.Port, "--web-port")
	if err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("origin server: %w", err)
	}
	s.mu.Lock()
	s.originOutcome = originOutcome
	s.mu.Unlock()
	s.setState(StateOriginBound)

	// The upstream target must reflect the origin's actual bound port.
	// Published to the forwarding engine before the proxy listener accepts
	// its first connection; read-only afterwards.
	resolved := ResolveUpstream(s.cfg.Upstream.URL, originOutcome.Requested, originOutcome.Bound)
	if resolved != s.cfg.Upstream.URL {
		s.logger.Info("rewrote upstream URL for shifted origin port",
			"configured", s.cfg.Upstream.URL,
			"resolved", resolved,
		)
	}
	s.svc.SetTarget(resolved)
	s.setState(StateUpstreamResolved)

	s.setState(StateProxyBinding)
	proxyLn, proxyOutcome, err := s.bind(s.cfg.Proxy.Host, s.cfg.Proxy.Port, "--proxy-port")
	if err != nil {
		_ = originLn.Close()
		s.setState(StateFailed)
		return fmt.Errorf("proxy server: %w", err)
	}
	s.mu.Lock()
	s.proxyOutcome = proxyOutcome
	s.mu.Unlock()
	s.setState(StateProxyBound)

	s.serveErr = make(chan error, 2)
	go s.serve("origin", s.origin, originLn)
	go s.serve("proxy", s.proxy, proxyLn)
	go s.watch()
	s.setState(StateRunning)

	s.logger.Info("origin server running",
		"url", fmt.Sprintf("http://localhost:%d", originOutcome.Bound),
		"requested_port", originOutcome.Requested,
		"fallback", originOutcome.Fallback,
	)
	s.logger.Info("reverse proxy running",
		"url", fmt.Sprintf("http://localhost:%d", proxyOutcome.Bound),
		"requested_port", proxyOutcome.Requested,
		"fallback", proxyOutcome.Fallback,
		"upstream", resolved,
	)

	return nil
}

// Stop shuts both listeners down together.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.logger.Info("shutting down listeners")
	err := errors.Join(
		s.proxy.Shutdown(ctx),
		s.origin.Shutdown(ctx),
	)

	s.mu.Lock()
	if s.state != StateFailed {
		s.state = StateTerminated
	}
	s.mu.Unlock()

	return err
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OriginOutcome returns how the origin listener's port was resolved.
func (s *Supervisor) OriginOutcome() model.BindOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.originOutcome
}

// ProxyOutcome returns how the proxy listener's port was resolved.
func (s *Supervisor) ProxyOutcome() model.BindOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proxyOutcome
}

// bind attempts to listen on the requested port, falling back to a scanned
// alternative when enabled. The flag name appears in fatal errors so the
// operator knows which override to use.
func (s *Supervisor) bind(host string, requested int, flag string) (net.Listener, model.BindOutcome, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(requested))
	ln, err := s.listen("tcp", addr)
	if err == nil {
		return ln, model.BindOutcome{Requested: requested, Bound: requested}, nil
	}

	if !s.cfg.AutoPort() {
		return nil, model.BindOutcome{}, fmt.Errorf(
			"bind %s: %w (auto-port selection disabled; specify a free port with %s)", addr, err, flag)
	}

	s.logger.Warn("requested port unavailable, scanning for an alternative",
		"addr", addr,
		"err", err,
	)

	alt, ok := s.ports.FindAvailable(requested + 1)
	if !ok {
		return nil, model.BindOutcome{}, fmt.Errorf(
			"bind %s: %w, and no free port was found in the scan window; specify one manually with %s", addr, err, flag)
	}

	altAddr := net.JoinHostPort(host, strconv.Itoa(alt))
	ln, err = s.listen("tcp", altAddr)
	if err != nil {
		return nil, model.BindOutcome{}, fmt.Errorf("bind fallback %s: %w", altAddr, err)
	}

	s.logger.Info("using alternative port",
		"requested", requested,
		"bound", alt,
	)
	return ln, model.BindOutcome{Requested: requested, Bound: alt, Fallback: true}, nil
}

func (s *Supervisor) serve(name string, e *echo.Echo, ln net.Listener) {
	if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
		s.serveErr <- fmt.Errorf("%s listener: %w", name, err)
	}
}

// watch waits for the first serve failure and takes the process down.
// Normal shutdown closes stopCh instead, ending the watch quietly.
func (s *Supervisor) watch() {
	select {
	case err := <-s.serveErr:
		s.logger.Error("listener failed, shutting down both listeners", "err", err)
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		_ = s.shutdowner.Shutdown(fx.ExitCode(1))
	case <-s.stopCh:
	}
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.logger.Debug("state transition", "from", prev.String(), "to", next.String())
}

// ResolveUpstream rewrites the configured upstream URL when the origin
// listener fell back to another port and the URL literally embeds the
// requested port number. Every occurrence of the decimal port string is
// replaced; a URL that does not contain it is returned unchanged even when
// the origin's port shifted.
func ResolveUpstream(configured string, requested, bound int) string {
	if bound == requested {
		return configured
	}
	needle := strconv.Itoa(requested)
	if !strings.Contains(configured, needle) {
		return configured
	}
	return strings.ReplaceAll(configured, needle, strconv.Itoa(bound))
}
