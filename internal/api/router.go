package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/config"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/store"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Config  config.App
	Service *attendance.Service
	Repo    *attendance.Repository
	DB      *store.DB
	Redis   *store.Redis // nil when no component uses redis
	Limiter httpmiddleware.Limiter
}

// Handler serves the v1 API.
type Handler struct {
	cfg   config.App
	svc   *attendance.Service
	repo  *attendance.Repository
	db    *store.DB
	redis *store.Redis
}

// NewRouter builds the gin engine with middleware and every route.
func NewRouter(d Deps) *gin.Engine {
	h := &Handler{cfg: d.Config, svc: d.Service, repo: d.Repo, db: d.DB, redis: d.Redis}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(corsConfig(d.Config.CORSOrigins)))
	r.Use(securityHeaders())
	if d.Limiter != nil {
		r.Use(httpmiddleware.RateLimit(d.Limiter))
	}

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", h.health)

	v1 := r.Group("/v1")
	v1.POST("/devices/register", h.registerDevice)
	v1.POST("/staff/token", h.issueStaffToken)

	authed := v1.Group("", auth.Bearer(d.Config.JWTSigningKey, d.Config.JWTIssuer))

	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher, auth.RoleDoctor)
	managers := auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher)
	admins := auth.RequireRole(auth.RoleAdmin)

	authed.POST("/attendance", auth.RequireRole(auth.RoleDevice), h.submitAttendance)

	authed.POST("/sessions", managers, h.createSession)
	authed.GET("/sessions", staff, h.listSessions)
	authed.GET("/sessions/:id", staff, h.getSession)
	authed.POST("/sessions/:id/close", managers, h.closeSession)
	authed.POST("/sessions/:id/override", admins, h.overrideSession)
	authed.GET("/sessions/:id/submissions", staff, h.listSubmissions)

	authed.POST("/students", admins, h.createStudent)
	authed.GET("/students", managers, h.listStudents)
	authed.GET("/students/by-code/:code", managers, h.resolveStudent)
	authed.POST("/courses", admins, h.createCourse)
	authed.GET("/courses", managers, h.listCourses)

	authed.GET("/fraud-signals", admins, h.listFraudSignals)
	authed.GET("/settings", admins, h.getSettings)
	authed.PUT("/settings", admins, h.updateSettings)

	return r
}

func (h *Handler) health(c *gin.Context) {
	ctx := c.Request.Context()
	dbHealthy := h.db.Healthy(ctx)
	redisHealthy := h.redis == nil || h.redis.Healthy(ctx)
	status := http.StatusOK
	if !dbHealthy || !redisHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"status": http.StatusText(status), "db": dbHealthy, "redis": redisHealthy})
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", staffKeyHeader},
		MaxAge:       24 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	cfg.AllowOrigins = origins
	cfg.AllowCredentials = true
	return cfg
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// HSTS only in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
