package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"remindbot/internal/config"
	"remindbot/internal/notifier"
	"remindbot/internal/observability/pprof"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/scheduler"
	"remindbot/internal/storage"
	"remindbot/internal/transport/whatsapp"
	logx "remindbot/pkg/logx"
)

// Health is the /health body.
type Health struct {
	Status     string                 `json:"status"`
	Platform   string                 `json:"platform"`
	Timezone   string                 `json:"timezone"`
	Uptime     string                 `json:"uptime"`
	Storage    string                 `json:"storage"`
	Semantic   bool                   `json:"semantic"`
	Scheduler  scheduler.Snapshot     `json:"scheduler"`
	Supervisor supervisor.Snapshot    `json:"supervisor"`
	Recent     []notifier.HistoryItem `json:"recent_deliveries,omitempty"`
}

// Replier sends a reply to the owner of an inbound webhook message.
type Replier interface {
	SendText(ctx context.Context, ownerID, text string) error
}

type HTTPDeps struct {
	Platform string
	Handler  *Handler
	// Replier is required for the whatsapp webhook route.
	Replier Replier
	Store   storage.Store
	Metrics *Metrics
	Health  func(ctx context.Context) Health
	Pprof   pprof.Config
	Logger  logx.Logger
}

func init() { gin.SetMode(gin.ReleaseMode) }

// NewRouter builds the gin engine: webhook, health, admin listing, metrics
// and optional profiling.
func NewRouter(d HTTPDeps) *gin.Engine {
	log := d.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "http"))

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	if d.Platform == config.PlatformWhatsApp && d.Replier != nil {
		r.POST("/webhook/whatsapp", whatsappWebhook(d, log))
	}
	r.GET("/health", func(c *gin.Context) {
		h := d.Health(c.Request.Context())
		code := http.StatusOK
		if h.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, h)
	})
	r.GET("/tasks/:owner", listTasks(d))
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	pprof.Mount(r, d.Pprof)
	return r
}

func requestLogger(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func whatsappWebhook(d HTTPDeps, log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "invalid form"})
			return
		}
		msg, err := whatsapp.ParseInbound(c.Request.PostForm)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "error": "Missing required fields"})
			return
		}
		ctx := c.Request.Context()
		out := d.Handler.Handle(ctx, msg)
		if out.Reply != "" {
			if err := d.Replier.SendText(ctx, msg.OwnerID, out.Reply); err != nil {
				log.Warn("webhook reply failed", logx.String("request_id", out.RequestID), logx.Err(err))
			}
		}
		c.JSON(http.StatusOK, out)
	}
}

func listTasks(d HTTPDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		owner := strings.TrimSpace(c.Param("owner"))
		if d.Platform == config.PlatformWhatsApp {
			owner = whatsapp.NormalizeAddress(owner)
		}
		includeSent, _ := strconv.ParseBool(c.DefaultQuery("include_sent", "false"))
		tasks, err := d.Store.ForOwner(c.Request.Context(), owner, includeSent)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "error": err.Error()})
			return
		}
		if tasks == nil {
			tasks = []reminder.Task{}
		}
		c.JSON(http.StatusOK, gin.H{"owner_id": owner, "count": len(tasks), "tasks": tasks})
	}
}

// HTTPServer runs a gin engine under the app supervisor.
type HTTPServer struct {
	addr string
	log  logx.Logger

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewHTTPServer(addr string, log logx.Logger) *HTTPServer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPServer{addr: addr, log: log.With(logx.String("comp", "http"))}
}

// Start binds the listener synchronously so address errors surface at
// startup, then serves on sup.
func (s *HTTPServer) Start(sup *supervisor.Supervisor, h http.Handler) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	s.log.Info("http listening", logx.String("addr", ln.Addr().String()))
	sup.Go("http.serve", func(ctx context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
