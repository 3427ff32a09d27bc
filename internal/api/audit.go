package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arencloud/s3keeper/internal/apperr"
	"github.com/arencloud/s3keeper/internal/audit"

	"github.com/gin-gonic/gin"
)

func registerAudit(r *gin.RouterGroup, s *apiServer) {
	r.GET("/audit/logs", s.auditLogs)
	r.GET("/audit/stats", s.auditStats)
	r.GET("/audit/actions", func(c *gin.Context) { c.JSON(http.StatusOK, audit.Actions()) })
}

func (s *apiServer) auditLogs(c *gin.Context) {
	q := audit.Query{Action: audit.Action(c.Query("action"))}
	var err error
	if q.Page, err = intQuery(c, "page", 0); err != nil {
		respondError(c, err)
		return
	}
	if q.Size, err = intQuery(c, "size", audit.DefaultPageSize); err != nil {
		respondError(c, err)
		return
	}
	if q.StartDate, err = timeQuery(c, "startDate"); err != nil {
		respondError(c, err)
		return
	}
	if q.EndDate, err = timeQuery(c, "endDate"); err != nil {
		respondError(c, err)
		return
	}
	page, err := s.audit.Query(c.Request.Context(), actor(c).UserID, q)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *apiServer) auditStats(c *gin.Context) {
	counts, err := s.audit.Counts(c.Request.Context(), actor(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, counts)
}

func intQuery(c *gin.Context, name string, def int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.InvalidInput("%s must be a number", name)
	}
	return n, nil
}

func timeQuery(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperr.InvalidInput("%s must be an RFC 3339 timestamp", name)
	}
	return &t, nil
}
