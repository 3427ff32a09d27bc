package api

import (
	"net/http"
	"time"

	"github.com/arencloud/s3keeper/internal/analytics"
	"github.com/arencloud/s3keeper/internal/audit"
	"github.com/arencloud/s3keeper/internal/config"
	"github.com/arencloud/s3keeper/internal/db"
	"github.com/arencloud/s3keeper/internal/gateway"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/middleware"
	"github.com/arencloud/s3keeper/internal/vault"
	"github.com/arencloud/s3keeper/internal/version"

	"github.com/gin-contrib/requestid"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// Deps are the components the HTTP layer serves.
type Deps struct {
	Config    *config.Config
	Logger    logging.Logger
	DB        *gorm.DB
	Vault     *vault.Vault
	Gateway   *gateway.Gateway
	Analytics *analytics.Aggregator
	Audit     *audit.Trail
}

type apiServer struct {
	logger    logging.Logger
	db        *gorm.DB
	vault     *vault.Vault
	gw        *gateway.Gateway
	analytics *analytics.Aggregator
	audit     *audit.Trail
	maxUpload int64
}

func Router(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(requestid.New())
	r.Use(ginzap.GinzapWithConfig(logging.Zap(d.Logger), &ginzap.Config{
		UTC:        true,
		TimeFormat: time.RFC3339,
		SkipPaths:  []string{"/health", "/metrics"},
		Context: func(c *gin.Context) []zapcore.Field {
			return []zapcore.Field{zap.String("requestId", requestid.Get(c)), zap.String("user", middleware.User(c))}
		},
	}))
	r.Use(middleware.Recoverer(d.Logger))

	s := &apiServer{
		logger:    d.Logger,
		db:        d.DB,
		vault:     d.Vault,
		gw:        d.Gateway,
		analytics: d.Analytics,
		audit:     d.Audit,
		maxUpload: d.Config.MaxUploadSize,
	}

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": version.Name, "version": version.Version})
	})

	v1 := r.Group("/api/v1", middleware.Principal(d.Config.PrincipalHeader))
	registerCredentials(v1, s)
	registerBuckets(v1, s)
	registerAnalytics(v1, s)
	registerAudit(v1, s)

	// log level is process-wide, so only operators may touch it
	logs := v1.Group("/logs", middleware.Admin(d.Config.AdminUsers))
	logs.GET("/level", logsGetLevel)
	logs.PUT("/level", logsSetLevel)
	return r
}

func (s *apiServer) health(c *gin.Context) {
	if s.db != nil {
		if err := db.Ping(c.Request.Context(), s.db); err != nil {
			s.logger.Error("health check failed", "error", err)
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

func logsGetLevel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"level": logging.GetLevel()})
}

func logsSetLevel(c *gin.Context) {
	var in struct {
		Level string `json:"level" binding:"required,oneof=debug info warn warning error fatal"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	logging.SetLevel(in.Level)
	c.JSON(http.StatusOK, gin.H{"ok": true, "level": logging.GetLevel()})
}
