package application

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"ptybridge/internal/connector"
	"ptybridge/internal/domain"
	"ptybridge/internal/handshake"
	"ptybridge/internal/infrastructure/network"
	"ptybridge/internal/transport"
)

var (
	// ErrInvalidRequest is returned by Open for requests that cannot start.
	ErrInvalidRequest = errors.New("invalid bridge request")

	errNoResolver = errors.New("no resolver configured")
	errClosed     = errors.New("bridge service closed")
)

// bridge is one request in flight. It is registered under at most one
// descriptor at a time: the remote fd during the remote handshake, the
// local fd afterwards.
type bridge struct {
	req      domain.BridgeRequest
	done     func(domain.BridgeResult)
	log      *slog.Logger
	remote   *transport.Remote
	local    *network.FDConn
	session  *connector.Session
	fd       int
	events   domain.EventType
	query    uint16
	resolves bool
	finished bool
}

// BridgeService drives connector sessions from an event loop. It is not
// safe for concurrent use: call Open before Start or from a done callback.
type BridgeService struct {
	log      *slog.Logger
	loop     domain.EventLoop
	resolver domain.Resolver
	bridges  map[int]*bridge
	dnsMap   map[uint16]*bridge // DNS ID -> bridge
	nextID   uint16
}

// NewBridgeService creates the service. resolver may be nil, in which case
// remote hosts must be IP literals.
func NewBridgeService(loop domain.EventLoop, logger *slog.Logger, resolver domain.Resolver) (*BridgeService, error) {
	s := &BridgeService{
		log:      logger,
		loop:     loop,
		resolver: resolver,
		bridges:  make(map[int]*bridge),
		dnsMap:   make(map[uint16]*bridge),
	}
	if resolver != nil {
		if err := loop.Register(resolver.FD(), domain.EventRead); err != nil {
			return nil, fmt.Errorf("failed to register resolver: %w", err)
		}
	}
	return s, nil
}

// Start runs the event loop until it is stopped.
func (s *BridgeService) Start() error {
	s.log.Info("Bridge service is running loop...", "pending", len(s.bridges)+len(s.dnsMap))
	return s.loop.Run(s)
}

// Open starts one bridge. done is called exactly once with the connection
// id or the failure, possibly before Open returns. An error from Open means
// the request was rejected and done will not be called.
func (s *BridgeService) Open(req domain.BridgeRequest, done func(domain.BridgeResult)) error {
	if err := validate(req); err != nil {
		return err
	}
	if done == nil {
		return fmt.Errorf("%w: nil completion callback", ErrInvalidRequest)
	}

	b := &bridge{req: req, done: done, fd: -1, log: s.log.With("local", req.LocalSocket)}
	opts := transport.Options{Version: req.Version, ProtocolType: req.ProtocolType, Identity: req.Identity}

	if req.Remote.IsCommand() {
		b.log = b.log.With("command", req.Remote.Command[0])
		remote, err := transport.Command(req.Remote.Command, opts, s.log)
		if err != nil {
			s.finish(b, connector.NewError(connector.RemoteConnectFailed, err))
			return nil
		}
		s.start(b, remote)
		return nil
	}

	b.log = b.log.With("host", req.Remote.Host, "port", req.Remote.Port)
	if addr, err := netip.ParseAddr(req.Remote.Host); err == nil {
		s.connect(b, addr)
		return nil
	}
	s.resolve(b)
	return nil
}

func validate(req domain.BridgeRequest) error {
	if req.Remote.IsCommand() == (req.Remote.Host != "") {
		return fmt.Errorf("%w: exactly one of host and command must be set", ErrInvalidRequest)
	}
	if !req.Remote.IsCommand() && (req.Remote.Port <= 0 || req.Remote.Port > 65535) {
		return fmt.Errorf("%w: port %d", ErrInvalidRequest, req.Remote.Port)
	}
	if req.LocalSocket == "" {
		return fmt.Errorf("%w: local socket path is empty", ErrInvalidRequest)
	}
	if req.ProtocolType != handshake.ProtocolTerminal && req.ProtocolType != handshake.ProtocolRaw {
		return fmt.Errorf("%w: protocol type %d", ErrInvalidRequest, req.ProtocolType)
	}
	if _, err := handshake.Render(req.Version, req.ProtocolType, req.Identity); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return nil
}

func (s *BridgeService) resolve(b *bridge) {
	if s.resolver == nil {
		s.finish(b, connector.NewError(connector.RemoteConnectFailed,
			fmt.Errorf("resolve %s: %w", b.req.Remote.Host, errNoResolver)))
		return
	}

	id := s.queryID()
	if err := s.resolver.Query(b.req.Remote.Host, id); err != nil {
		s.finish(b, connector.NewError(connector.RemoteConnectFailed,
			fmt.Errorf("resolve %s: %w", b.req.Remote.Host, err)))
		return
	}
	b.query, b.resolves = id, true
	s.dnsMap[id] = b
	b.log.Info("Resolving domain", "id", id)
}

// queryID returns an id not used by a pending query.
func (s *BridgeService) queryID() uint16 {
	for {
		s.nextID++
		if _, busy := s.dnsMap[s.nextID]; !busy {
			return s.nextID
		}
	}
}

func (s *BridgeService) processDNSResponse() error {
	id, addr, err := s.resolver.ReadAnswer()
	if err != nil && connector.Transient(err) {
		return nil
	}

	b, exists := s.dnsMap[id]
	if !exists {
		if err != nil {
			s.log.Debug("Dropped DNS response", "error", err)
		}
		return nil
	}
	delete(s.dnsMap, id)
	b.resolves = false

	if err != nil {
		b.log.Warn("DNS resolution failed", "error", err)
		s.finish(b, connector.NewError(connector.RemoteConnectFailed,
			fmt.Errorf("resolve %s: %w", b.req.Remote.Host, err)))
		return nil
	}

	b.log.Info("DNS Resolved", "ip", addr)
	s.connect(b, addr)
	return nil
}

func (s *BridgeService) connect(b *bridge, addr netip.Addr) {
	fd, err := network.DialTCP(addr, b.req.Remote.Port)
	if err != nil {
		s.finish(b, connector.NewError(connector.RemoteConnectFailed, err))
		return
	}
	b.log.Debug("Initiating TCP connection", "remote_ip", addr, "remote_fd", fd)
	opts := transport.Options{Version: b.req.Version, ProtocolType: b.req.ProtocolType, Identity: b.req.Identity}
	s.start(b, transport.TCP(fd, opts, s.log))
}

// start connects the local control socket and begins the session.
func (s *BridgeService) start(b *bridge, remote *transport.Remote) {
	b.remote = remote

	lfd, err := network.DialUnix(b.req.LocalSocket)
	if err != nil {
		s.finish(b, connector.NewError(connector.LocalConnectFailed, err))
		return
	}
	b.local = network.NewFDConn(lfd)

	session, err := connector.NewSession(connector.Params{
		Remote:       remote,
		Local:        b.local,
		Descriptor:   remote.FD(),
		ProtocolType: b.req.ProtocolType,
		Version:      b.req.Version,
		Identity:     b.req.Identity,
		Hello:        b.req.Hello,
		Attributes:   b.req.Attributes,
	})
	if err != nil {
		s.finish(b, err)
		return
	}
	b.session = session

	if err := s.watch(b); err != nil {
		s.finish(b, err)
		return
	}
	b.log.Debug("Session started", "remote_fd", remote.FD(), "local_fd", lfd)
}

func (s *BridgeService) HandleEvent(fd int, event domain.EventType) error {
	if s.resolver != nil && fd == s.resolver.FD() {
		return s.processDNSResponse()
	}

	b := s.bridges[fd]
	if b == nil {
		return nil
	}
	s.drive(b)
	return nil
}

// drive steps the session once, then keeps stepping while inbound bytes
// are buffered and the session waits for reads.
func (s *BridgeService) drive(b *bridge) {
	for {
		from := b.session.State()
		progress, err := b.session.Step()
		switch progress {
		case connector.Finished:
			s.finish(b, err)
			return
		case connector.Advanced:
			b.log.Debug("Session advanced", "from", from, "state", b.session.State())
			if err := s.watch(b); err != nil {
				s.finish(b, err)
				return
			}
		}

		if b.session.Buffered() == 0 {
			return
		}
		if _, ev := b.session.Interest(); ev != domain.EventRead {
			return
		}
	}
}

// watch points the loop at the descriptor and readiness the session
// currently waits for.
func (s *BridgeService) watch(b *bridge) error {
	fd, ev := b.session.Interest()
	if fd == b.fd {
		if ev == b.events {
			return nil
		}
		if err := s.loop.Modify(fd, ev); err != nil {
			return fmt.Errorf("modify fd %d: %w", fd, err)
		}
		b.events = ev
		return nil
	}

	s.unwatch(b)
	if fd < 0 {
		return nil
	}
	if err := s.loop.Register(fd, ev); err != nil {
		return fmt.Errorf("register fd %d: %w", fd, err)
	}
	b.fd, b.events = fd, ev
	s.bridges[fd] = b
	return nil
}

func (s *BridgeService) unwatch(b *bridge) {
	if b.fd < 0 {
		return
	}
	s.loop.Unregister(b.fd)
	delete(s.bridges, b.fd)
	b.fd, b.events = -1, 0
}

// finish releases the bridge's descriptors and reports the result. On
// success the remote descriptor lives on in the local peer.
func (s *BridgeService) finish(b *bridge, err error) {
	if b.finished {
		return
	}
	b.finished = true

	s.unwatch(b)
	if b.resolves {
		delete(s.dnsMap, b.query)
		b.resolves = false
	}
	if b.local != nil {
		b.local.Close()
	}

	result := domain.BridgeResult{Err: err}
	if err == nil {
		b.remote.Close()
		result.ConnectionID = b.session.ConnectionID()
		hello := b.remote.Hello()
		b.log.Info("Bridge established",
			"connection_id", result.ConnectionID.String(),
			"remote_version", hello.Version,
			"remote_id", hello.ID.String())
	} else {
		if b.remote != nil {
			b.remote.Abort()
		}
		s.logFailure(b, err)
	}
	b.done(result)
}

func (s *BridgeService) logFailure(b *bridge, err error) {
	attrs := []any{"error", err}
	var e *connector.Error
	if errors.As(err, &e) {
		attrs = append(attrs, "kind", e.Kind, "state", e.State)
		if e.Errno != 0 {
			attrs = append(attrs, "errno", int(e.Errno))
		}
		if e.HasDetail {
			attrs = append(attrs, "detail", e.Detail)
		}
	}
	b.log.Warn("Closing bridge", attrs...)
}

// Close aborts every bridge still in flight, reporting cause to each. It
// must not run concurrently with the event loop.
func (s *BridgeService) Close(cause error) {
	if cause == nil {
		cause = errClosed
	}
	pending := make([]*bridge, 0, len(s.bridges)+len(s.dnsMap))
	for _, b := range s.bridges {
		pending = append(pending, b)
	}
	for _, b := range s.dnsMap {
		pending = append(pending, b)
	}
	for _, b := range pending {
		s.finish(b, cause)
	}
	if s.resolver != nil {
		s.resolver.Close()
	}
}
