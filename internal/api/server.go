// Package api exposes the attendance engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"campverse/internal/attendance"
	"campverse/internal/auth"
	"campverse/internal/httpmiddleware"
	"campverse/internal/jobs"
	"campverse/internal/metrics"
	"campverse/internal/observability"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

type Options struct {
	SigningKey      string
	Issuer          string
	RateLimitPerMin int
	CORSOrigins     []string
	// WindowTick is the countdown stream interval.
	WindowTick time.Duration
	Health     map[string]HealthCheck
}

// Server holds the handler dependencies.
type Server struct {
	svc    *attendance.Service
	runner *jobs.Runner
	log    *zap.Logger
	opts   Options
}

func New(svc *attendance.Service, runner *jobs.Runner, log *zap.Logger, opts Options) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.WindowTick <= 0 {
		opts.WindowTick = time.Second
	}
	registerValidators()
	return &Server{svc: svc, runner: runner, log: log, opts: opts}
}

var validatorsOnce sync.Once

func registerValidators() {
	validatorsOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
				_, err := attendance.ParseClock(fl.Field().String())
				return err == nil
			})
		}
	})
}

// Router builds the gin engine with every route and middleware installed.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.recovery())
	r.Use(s.requestLogger("/healthz", "/metrics"))
	r.Use(cors.New(s.corsConfig()))
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", s.healthz)

	v1 := r.Group("/v1",
		auth.Authenticate(s.opts.SigningKey, s.opts.Issuer),
		httpmiddleware.NewSimpleTokenBucket(s.opts.RateLimitPerMin, s.opts.RateLimitPerMin).GinMiddleware(),
	)
	staff := auth.RequireRole(attendance.RoleFaculty, attendance.RoleAdmin)
	adminOnly := auth.RequireRole(attendance.RoleAdmin)

	v1.GET("/time", s.serverTime)

	v1.POST("/students", adminOnly, s.enrollStudent)
	v1.GET("/students/:id/attendance/four-week", s.fourWeek)
	v1.GET("/students/:id/attendance/subjects", s.subjectWise)
	v1.GET("/students/:id/attendance/categories", s.categoryWise)

	v1.POST("/slots", adminOnly, s.createSlot)
	v1.PUT("/slots/:id", adminOnly, s.updateSlot)
	v1.GET("/slots", s.listSlots)
	v1.GET("/slots/:id", s.getSlot)
	v1.GET("/slots/:id/permission", s.permission)
	v1.GET("/slots/:id/attendance", staff, s.slotAttendance)
	v1.GET("/slots/:id/attendance/stream", staff, s.streamAttendance)
	v1.GET("/slots/:id/window/stream", s.streamWindow)

	v1.POST("/attendance", staff, s.mark)
	v1.POST("/attendance/bulk", staff, s.markBulk)
	v1.POST("/attendance/override", adminOnly, s.override)

	v1.GET("/cohorts/attendance", staff, s.cohortAttendance)
	return r
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Retry-After"},
		MaxAge:        24 * time.Hour,
	}
	if len(s.opts.CORSOrigins) == 0 || (len(s.opts.CORSOrigins) == 1 && s.opts.CORSOrigins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.CORSOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range s.opts.Health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}

func (s *Server) requestLogger(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if _, ok := skipped[c.Request.URL.Path]; ok {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		}
		if m, ok := auth.MarkerFrom(c); ok {
			fields = append(fields, zap.String("sub", m.ID), zap.String("role", string(m.Role)))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.Error("request", fields...)
			return
		}
		s.log.Info("request", fields...)
	}
}

func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		err := fmt.Errorf("panic: %v", recovered)
		s.log.Error("handler panic", zap.String("path", c.Request.URL.Path), zap.Error(err))
		observability.CaptureErr(err, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
