package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"roomchat/internal/broker"
	"roomchat/internal/config"
	"roomchat/internal/constants"
	"roomchat/internal/credits"
	"roomchat/internal/moderation"
	"roomchat/internal/presence"
	"roomchat/internal/rooms"
	"roomchat/internal/security"
	"roomchat/internal/store"
	"roomchat/internal/voucher"
)

type Server struct {
	cfg   config.Server
	store store.Store
	bus   broker.Bus
	hub   *Hub

	presence   *presence.Service
	moderation *moderation.Service
	vouchers   *voucher.Service
	catalog    *rooms.Catalog

	connLimiter *security.ConnectionLimiter
	proxies     *security.ProxyTrust
	bruteForce  *security.BruteForceProtector
	audit       *security.AuditLogger
	upgrader    websocket.Upgrader

	now   func() time.Time
	newID func() string
	log   *slog.Logger
}

type options struct {
	now     func() time.Time
	granter credits.Granter
	audit   *security.AuditLogger
}

type Option func(*options)

// WithClock drives every time-based decision of the server and its services.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithGranter replaces the granter picked from the credit URL.
func WithGranter(g credits.Granter) Option {
	return func(o *options) { o.granter = g }
}

// WithAuditLogger replaces the file audit log.
func WithAuditLogger(a *security.AuditLogger) Option {
	return func(o *options) { o.audit = a }
}

// New wires the services over st. The server owns st from here on and closes
// it in Close.
func New(ctx context.Context, cfg config.Server, st store.Store, opts ...Option) (*Server, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	if o.audit == nil {
		audit, err := security.NewAuditLogger(cfg.AuditDir)
		if err != nil {
			slog.Warn("⚠️  audit log disabled", "error", err)
		}
		o.audit = audit
	}
	if o.granter == nil {
		o.granter = credits.New(cfg.CreditURL, st)
	}

	proxies, err := security.NewProxyTrust(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	bus := broker.New(st)
	hub, err := NewHub(ctx, bus)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	pres := presence.NewService(st, presence.Config{
		OnlineTTL:     cfg.Presence.OnlineTTL,
		MembershipTTL: cfg.Presence.MembershipTTL,
		SessionTTL:    cfg.Presence.SessionTTL,
	})

	modCfg := moderation.DefaultConfig()
	modCfg.Policy = moderation.EscalationPolicy{
		AdminBanThreshold:  cfg.Escalation.AdminThreshold,
		TargetBanThreshold: cfg.Escalation.TargetThreshold,
	}
	mod := moderation.NewService(st, modCfg,
		moderation.WithAuditor(o.audit),
		moderation.WithClock(o.now))

	locale, err := language.Parse(cfg.Voucher.Locale)
	if err != nil {
		locale = language.Indonesian
	}
	vouchers := voucher.NewService(st, o.granter, pres, voucher.Config{
		Interval:     cfg.Voucher.Interval,
		Expiry:       cfg.Voucher.Expiry,
		MinAmount:    cfg.Voucher.Min,
		MaxAmount:    cfg.Voucher.Max,
		UserCooldown: cfg.Voucher.Cooldown,
		Locale:       locale,
	}, voucher.WithClock(o.now))

	catalog := rooms.NewCatalog(st)
	if cfg.RoomsFile != "" {
		seed, err := rooms.LoadFile(cfg.RoomsFile)
		if err != nil {
			hub.Close()
			_ = bus.Close()
			return nil, fmt.Errorf("failed to load room catalog: %w", err)
		}
		added, err := catalog.Seed(ctx, seed)
		if err != nil {
			slog.Warn("⚠️  room catalog not seeded", "error", err)
		} else {
			slog.Info("🏠 room catalog seeded", "file", cfg.RoomsFile, "added", added)
		}
	}

	s := &Server{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		hub:         hub,
		presence:    pres,
		moderation:  mod,
		vouchers:    vouchers,
		catalog:     catalog,
		connLimiter: security.NewConnectionLimiter(cfg.MaxConnsPerIP, cfg.MaxConnsPerUser),
		proxies:     proxies,
		bruteForce:  security.NewBruteForceProtector(constants.MaxAdminAttempts, constants.AdminBlockDuration),
		audit:       o.audit,
		now:         o.now,
		newID:       func() string { return ulid.Make().String() },
		log:         slog.Default().With("component", "server"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  constants.WSBufferSize,
		WriteBufferSize: constants.WSBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			return security.ValidateOrigin(r, cfg.AllowedOrigins)
		},
	}
	return s, nil
}

// Handler returns the full HTTP surface: the websocket endpoint and the REST
// API behind the shared middleware chain.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	s.registerAPI(api)
	rest := Chain(api,
		security.MaxBodySize(constants.MaxBodySize),
		security.RequestTimeout(constants.RequestTimeout))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+constants.EndpointWebSocket, s.HandleWebSocket)
	mux.Handle("/", rest)

	return Chain(mux,
		GzipMiddleware,
		security.SecurityHeaders,
		CorsMiddleware(s.cfg.AllowedOrigins),
		RecoveryMiddleware)
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts down
// gracefully and releases everything.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("🚀 roomchat server starting", "port", s.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("🛑 shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("server forced to shutdown", "error", err)
		}
		return nil
	})
	if s.cfg.Voucher.Enabled {
		g.Go(func() error {
			s.vouchers.StartGenerator(gctx, s.hub)
			return nil
		})
	}
	g.Go(func() error {
		s.sweep(gctx)
		return nil
	})

	err := g.Wait()
	s.Close()
	s.log.Info("✅ server stopped")
	return err
}

func (s *Server) sweep(ctx context.Context) {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.bruteForce.Sweep()
		}
	}
}

// Close drops every socket and releases the bus, the audit log and the store.
func (s *Server) Close() {
	s.hub.Close()
	if err := s.bus.Close(); err != nil {
		s.log.Warn("close bus", "error", err)
	}
	if err := s.audit.Close(); err != nil {
		s.log.Warn("close audit log", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("close store", "error", err)
	}
}
