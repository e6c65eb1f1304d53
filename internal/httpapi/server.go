// Package httpapi is the relay's HTTP surface: send and whale alert routes,
// health, the delivery audit and an optional pprof mount.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"tgrelay/internal/delivery"
	"tgrelay/internal/health"
	"tgrelay/internal/routing"
	rtsup "tgrelay/internal/runtime/supervisor"
	"tgrelay/internal/storage"
	kit "tgrelay/internal/transport"
	logx "tgrelay/pkg/logx"
)

const (
	apiPrefix   = "/api/v1"
	pprofPrefix = "/debug/pprof"
	maxBodySize = 1 << 20
	serviceName = "tgrelay"
)

// Config controls the listener and request defaults.
// Token, ParseMode and DisablePreview apply on the fly; the rest needs a restart.
type Config struct {
	Addr  string
	Token string
	Debug bool
	Pprof bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	ParseMode      kit.ParseMode
	DisablePreview bool
}

// HealthSource reports the latest platform probe.
type HealthSource interface {
	Status() health.Status
}

// Deps are the shared components the handlers drive.
type Deps struct {
	Engine   *delivery.Engine
	Resolver *routing.Resolver
	// Store is optional; nil disables the audit.
	Store   storage.Store
	Health  HealthSource
	Bot     string
	Version string
	// Runtime, if set, is embedded in /api/v1/status.
	Runtime func() any
}

type Server struct {
	deps   Deps
	log    logx.Logger
	engine *gin.Engine

	token atomic.Value // string

	mu       sync.Mutex
	cfg      Config
	ln       net.Listener
	srv      *http.Server
	sup      *rtsup.Supervisor
	stopDone chan struct{}
	bound    chan struct{}
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := &Server{
		deps:  deps,
		log:   log.With(logx.String("comp", "httpapi")),
		cfg:   cfg,
		bound: make(chan struct{}),
	}
	s.token.Store(strings.TrimSpace(cfg.Token))

	if !cfg.Debug && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLog())
	s.registerRoutes(engine, cfg.Pprof)
	s.engine = engine
	return s
}

// Handler exposes the router (tests, embedding).
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Apply swaps the hot-reloadable settings.
func (s *Server) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg.Token = cfg.Token
	s.cfg.ParseMode = cfg.ParseMode
	s.cfg.DisablePreview = cfg.DisablePreview
	s.mu.Unlock()

	tok := strings.TrimSpace(cfg.Token)
	s.token.Store(tok)
	if strings.TrimSpace(prev.Token) != tok {
		s.log.Info("api token updated", logx.Bool("token_set", tok != ""))
	}
}

func (s *Server) currentToken() string {
	v, _ := s.token.Load().(string)
	return v
}

func (s *Server) registerRoutes(engine *gin.Engine, pprof bool) {
	engine.GET("/health", s.handleHealth)
	engine.GET("/ping", s.handlePing)

	api := engine.Group(apiPrefix, s.authMiddleware())
	api.POST("/send", s.handleSend)
	api.POST("/send/multiple", s.handleSendMultiple)
	api.POST("/send/formatted", s.handleSendFormatted)
	api.GET("/deliveries", s.handleDeliveries)
	api.GET("/status", s.handleStatus)

	whale := api.Group("/whale")
	whale.POST("/send", s.handleWhaleSend)
	whale.POST("/trade", s.handleWhaleTrade)
	whale.POST("/liquidation", s.handleWhaleLiquidation)

	if pprof {
		dbg := engine.Group(pprofPrefix, s.authMiddleware())
		dbg.GET("/*name", handlePprof)
		dbg.POST("/*name", handlePprof)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		}
		if s.config().Debug {
			s.log.Info("http request", fields...)
		} else {
			s.log.Debug("http request", fields...)
		}
	}
}

// Addr returns the bound listener address once the server is serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Bound is closed the first time the listener is up.
func (s *Server) Bound() <-chan struct{} { return s.bound }

// Supervisor returns the server's supervisor (nil if not started).
func (s *Server) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start runs the listener under a restart loop. It is idempotent.
func (s *Server) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		s.mu.Lock()
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		if s.sup != nil {
			s.mu.Unlock()
			return
		}
		s.sup = rtsup.New(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		)
		sup := s.sup
		s.mu.Unlock()

		sup.GoRestart("http.serve", s.serveOnce,
			rtsup.WithPublishFirstError(true),
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
		return
	}
}

// Stop shuts the listener down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.sup == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	sup := s.sup
	s.mu.Unlock()

	go func() {
		defer close(done)
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				_ = srv.Close()
			}
		}
		sup.Cancel()
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.ln = nil
		s.srv = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("http api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

func (s *Server) serveOnce(ctx context.Context) error {
	cur := s.config()
	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:5001"
	}
	if s.currentToken() == "" && !isLoopbackAddr(addr) {
		s.log.Warn("http api listening on a non-loopback address without api.token", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("http api listen failed", logx.String("addr", addr), logx.Err(err))
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	defer func() { _ = ln.Close() }()

	srv := &http.Server{
		Handler:           s.engine,
		ReadTimeout:       cur.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cur.WriteTimeout,
		IdleTimeout:       cur.IdleTimeout,
	}

	s.mu.Lock()
	s.ln = ln
	s.srv = srv
	s.mu.Unlock()
	select {
	case <-s.bound:
	default:
		close(s.bound)
	}

	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("http api started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.currentToken() != ""),
		logx.Bool("pprof", cur.Pprof),
	)
	err = srv.Serve(ln)

	s.mu.Lock()
	if s.srv == srv {
		s.srv = nil
		s.ln = nil
	}
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if stopping || ctx.Err() != nil {
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
