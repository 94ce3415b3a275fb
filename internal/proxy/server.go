// Package proxy serves a local reverse proxy that forwards every request to
// the upstream API through the gateway, so clients without auth support get
// credentials, refresh and replay.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/logging"
	"github.com/basecamp/authgate/internal/observability"
)

// ControlPrefix is the path prefix reserved for the proxy's own endpoints.
const ControlPrefix = "/_authgate/"

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
	shutdownTimeout = 5 * time.Second
)

// Options configures a Server.
type Options struct {
	Listen    string
	Upstream  string
	Gateway   *gateway.Gateway
	Collector *observability.SessionCollector
}

// Server is the local proxy.
type Server struct {
	router    *gin.Engine
	listen    string
	upstream  *url.URL
	gw        *gateway.Gateway
	collector *observability.SessionCollector
	proxy     *httputil.ReverseProxy
	log       *log.Entry
}

var ginOnce sync.Once

// routeGinLogs sends gin's own output through logrus.
func routeGinLogs() {
	ginOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
		gin.DefaultWriter = log.StandardLogger().WriterLevel(log.DebugLevel)
		gin.DefaultErrorWriter = log.StandardLogger().WriterLevel(log.ErrorLevel)
		gin.DebugPrintFunc = func(format string, values ...any) {
			log.StandardLogger().Debugf(strings.TrimRight(format, "\r\n"), values...)
		}
	})
}

// New creates a proxy server for the configured upstream.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, errors.New("proxy: gateway is required")
	}
	upstream, err := url.Parse(opts.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("proxy: invalid upstream %q", opts.Upstream)
	}
	if opts.Collector == nil {
		opts.Collector = observability.NewSessionCollector()
	}

	routeGinLogs()

	s := &Server{
		router:    gin.New(),
		listen:    opts.Listen,
		upstream:  upstream,
		gw:        opts.Gateway,
		collector: opts.Collector,
		log:       logging.For("proxy"),
	}
	s.proxy = s.newReverseProxy()

	s.router.Use(s.recovery(), s.requestLogger())
	s.setupRoutes()
	return s, nil
}

// Handler returns the proxy's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("proxy: listen %s: %w", s.listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Infof("listening on %s, forwarding to %s", ln.Addr(), s.upstream)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) setupRoutes() {
	control := s.router.Group(strings.TrimSuffix(ControlPrefix, "/"))
	{
		control.GET("/status", s.handleStatus)
		control.GET("/events", s.handleEvents)
	}
	s.router.NoRoute(s.handleProxy)
}

func (s *Server) newReverseProxy() *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(s.upstream)
			r.SetXForwarded()
			// The gateway owns Authorization; a client value must never reach upstream.
			r.Out.Header.Del("Authorization")
		},
		Transport: s.gw.Transport(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if gateway.IsSessionExpired(err) {
				writeJSONError(w, http.StatusUnauthorized, "session_expired", "Session expired. Run: authgate auth login")
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			s.log.WithField(requestIDKey, r.Header.Get(requestIDHeader)).Warnf("upstream request failed: %v", err)
			writeJSONError(w, http.StatusBadGateway, "bad_gateway", "Upstream request failed")
		},
	}
}

func (s *Server) handleProxy(c *gin.Context) {
	if strings.HasPrefix(c.Request.URL.Path, ControlPrefix) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Unknown control endpoint"})
		return
	}
	s.proxy.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) handleStatus(c *gin.Context) {
	status := gin.H{
		"state":    s.gw.State().String(),
		"upstream": s.upstream.String(),
		"stats":    s.collector.Summary().Map(),
	}
	if cred, ok := s.gw.Credential(); ok {
		status["can_refresh"] = cred.CanRefresh()
		if !cred.ExpiresAt.IsZero() {
			status["expires_at"] = cred.ExpiresAt.UTC().Format(time.RFC3339)
		}
	}
	c.JSON(http.StatusOK, status)
}

// handleEvents streams session lifecycle events. The current state is sent
// first, then one session_expired event per expiry episode.
func (s *Server) handleEvents(c *gin.Context) {
	expired := make(chan struct{}, 1)
	cancel := s.gw.Subscribe(func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent("state", gin.H{"state": s.gw.State().String()})
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-expired:
			c.SSEvent("session_expired", gin.H{
				"state": s.gw.State().String(),
				"time":  time.Now().UTC().Format(time.RFC3339),
			})
			return true
		}
	})
}

// requestLogger assigns each request an ID and logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Request.Header.Set(requestIDHeader, requestID)
		}
		c.Set(requestIDKey, requestID)
		c.Header(requestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		line := fmt.Sprintf("%3d | %10v | %-7s %s", status, time.Since(start).Truncate(time.Millisecond), c.Request.Method, c.Request.URL.Path)
		entry := s.log.WithField(requestIDKey, requestID)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(line)
		case status >= http.StatusBadRequest:
			entry.Warn(line)
		default:
			entry.Info(line)
		}
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if err, ok := recovered.(error); ok && errors.Is(err, http.ErrAbortHandler) {
			panic(http.ErrAbortHandler)
		}
		s.log.WithFields(log.Fields{
			"panic": recovered,
			"path":  c.Request.URL.Path,
		}).Error("recovered from panic")
		c.AbortWithStatus(http.StatusInternalServerError)
	})
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
