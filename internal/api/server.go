package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/thaeryn/httpgateway/internal/audit"
	"github.com/thaeryn/httpgateway/internal/auth"
	"github.com/thaeryn/httpgateway/internal/host"
	"github.com/thaeryn/httpgateway/internal/infrastructure/config"
	"github.com/thaeryn/httpgateway/internal/infrastructure/logging"
)

const (
	// defaultShutdownGrace bounds Close when no grace period is configured.
	defaultShutdownGrace = 10 * time.Second

	// telemetryInterval is how often session counts are written.
	telemetryInterval = 10 * time.Second

	// codePurgeInterval is how often expired enrollment codes are dropped.
	codePurgeInterval = time.Minute
)

// Telemetry receives gateway usage points. *influxdb.Client implements it.
type Telemetry interface {
	WriteSessions(active int, broadcasts uint64)
	WriteLogin(result string)
}

// Deps holds the dependencies required by the gateway server.
type Deps struct {
	Config   config.GatewayConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Metrics  config.MetricsConfig

	// Port is the listening port resolved from the port file.
	Port int

	Logger   *logging.Logger
	Registry *auth.Registry
	Tokens   *auth.TokenService
	Host     host.Adapter

	// Optional.
	Hub        *Hub             // created when nil
	AuditRepo  audit.Repository // audit trail disabled when nil
	Telemetry  Telemetry        // InfluxDB points disabled when nil
	Prometheus *Metrics         // created when nil and metrics are enabled

	Version string
}

// Server is the gateway's HTTP and WebSocket front end.
//
// It composes the Credential Registry, Token Service and Authorization
// Gate, routes REST requests, and hands authorized WebSocket sessions to
// the Broadcast Hub. Create it with New and start it with Start.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	cfg       config.GatewayConfig
	secCfg    config.SecurityConfig
	metricCfg config.MetricsConfig
	port      int
	logger    *logging.Logger
	registry  *auth.Registry
	tokens    *auth.TokenService
	host      host.Adapter
	hub       *Hub
	auditRepo audit.Repository
	telemetry Telemetry
	metrics   *Metrics
	limiter   *loginLimiter
	version   string

	auditCh chan *audit.AuditLog

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	closed   bool
	bg       sync.WaitGroup
}

// New creates a gateway server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("credential registry is required")
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if deps.Host == nil {
		return nil, fmt.Errorf("host adapter is required")
	}

	s := &Server{
		cfg:       deps.Config,
		secCfg:    deps.Security,
		metricCfg: deps.Metrics,
		port:      deps.Port,
		logger:    deps.Logger,
		registry:  deps.Registry,
		tokens:    deps.Tokens,
		host:      deps.Host,
		auditRepo: deps.AuditRepo,
		telemetry: deps.Telemetry,
		metrics:   deps.Prometheus,
		version:   deps.Version,
	}

	if s.metrics == nil && s.metricCfg.Enabled {
		s.metrics = NewMetrics()
	}

	s.hub = deps.Hub
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger.With("component", "hub"), s.metrics)
	}

	if s.secCfg.RateLimit.Enabled {
		s.limiter = newLoginLimiter(s.secCfg.RateLimit.RequestsPerMinute, s.secCfg.RateLimit.Burst)
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.AuditLog, auditChanSize)
	}

	return s, nil
}

// Hub returns the Broadcast Hub. Host adapters publish into it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background. Background
// workers (hub, audit writer, limiter sweep, code purge, telemetry) run
// until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("gateway server already started")
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.listener = listener

	s.goBackground(func() { s.hub.Run(srvCtx) })
	if s.auditCh != nil {
		s.goBackground(func() { s.drainAuditLog(srvCtx) })
	}
	if s.limiter != nil {
		s.goBackground(func() { s.limiter.run(srvCtx) })
	}
	s.goBackground(func() { s.registry.RunPurge(srvCtx, codePurgeInterval) })
	if s.telemetry != nil {
		s.goBackground(func() { s.runTelemetry(srvCtx) })
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	s.logger.Info("gateway listening", "address", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("gateway server error", "error", err)
		}
	}()

	return nil
}

func (s *Server) goBackground(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Bootstrap seeds the registry with the configured bootstrap identity and
// announces its code through the host adapter. This is the only channel
// through which a first code is distributed.
func (s *Server) Bootstrap(ctx context.Context) error {
	b := s.secCfg.Bootstrap
	identity := auth.Identity{UserID: b.UserID, UserName: b.UserName, RoleID: b.RoleID}

	code, err := s.IssueCode(ctx, identity, audit.SourceBootstrap)
	if err != nil {
		return fmt.Errorf("generating bootstrap code: %w", err)
	}
	if err := s.host.Announce(ctx, host.CodeReplyPrefix+code); err != nil {
		return fmt.Errorf("announcing bootstrap code: %w", err)
	}
	return nil
}

// IssueCode generates an enrollment code for identity. source names the
// path that requested it for the audit trail. The code itself is never
// logged here.
func (s *Server) IssueCode(_ context.Context, identity auth.Identity, source string) (string, error) {
	code, err := s.registry.Generate(identity)
	if err != nil {
		s.logger.Error("enrollment code generation failed", "source", source, "error", err)
		return "", err
	}

	s.metrics.incCodeIssued(source)
	s.auditLog(&audit.AuditLog{
		Action:   audit.ActionCodeIssued,
		Result:   audit.ResultSuccess,
		UserID:   identity.UserID,
		UserName: identity.UserName,
		RoleID:   identity.RoleID,
		Source:   source,
	})
	s.logger.Info("enrollment code issued", "user_id", identity.UserID, "source", source)
	return code, nil
}

// Close stops the listener, closes every WebSocket session and waits for
// in-flight requests up to the configured shutdown grace.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.server == nil || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	server, cancel := s.server, s.cancel
	s.mu.Unlock()

	grace := time.Duration(s.cfg.Timeouts.Shutdown) * time.Second
	if grace <= 0 {
		grace = defaultShutdownGrace
	}

	ctx, stop := context.WithTimeout(context.Background(), grace)
	defer stop()

	s.logger.Info("gateway shutting down", "grace", grace)

	// Cancelling first ends the hub, which closes hijacked WebSocket
	// connections that Shutdown does not track.
	cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		//nolint:errcheck // Forced close after grace period
		server.Close()
	}
	s.bg.Wait()

	if err != nil {
		return fmt.Errorf("shutting down gateway server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("gateway health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil || s.closed {
		return fmt.Errorf("gateway server not running")
	}
	return nil
}

// runTelemetry writes the session count every telemetryInterval.
func (s *Server) runTelemetry(ctx context.Context) {
	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.telemetry.WriteSessions(s.hub.Count(), s.hub.Broadcasts())
		}
	}
}
