package api

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func registerAnalytics(r *gin.RouterGroup, s *apiServer) {
	r.GET("/analytics/storage", s.storageAnalytics)
	r.GET("/analytics/export", s.exportAnalytics)
}

func (s *apiServer) storageAnalytics(c *gin.Context) {
	res, err := s.analytics.Compute(c.Request.Context(), actor(c), credentialID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *apiServer) exportAnalytics(c *gin.Context) {
	var buf bytes.Buffer
	if err := s.analytics.Export(c.Request.Context(), actor(c), credentialID(c), &buf); err != nil {
		respondError(c, err)
		return
	}
	name := "storage-analytics-" + time.Now().UTC().Format("20060102") + ".csv"
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}
