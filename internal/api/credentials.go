package api

import (
	"net/http"

	"github.com/arencloud/s3keeper/internal/vault"

	"github.com/gin-gonic/gin"
)

func registerCredentials(r *gin.RouterGroup, s *apiServer) {
	r.GET("/credentials", s.listCredentials)
	r.POST("/credentials", s.createCredential)
	r.GET("/credentials/:id", s.getCredential)
	r.PUT("/credentials/:id", s.updateCredential)
	r.DELETE("/credentials/:id", s.deleteCredential)
	r.POST("/credentials/:id/default", s.setDefaultCredential)
	r.POST("/credentials/:id/validate", s.validateCredential)
}

type credentialRequest struct {
	Alias     string `json:"alias" binding:"required,max=100"`
	AccessKey string `json:"accessKey" binding:"required"`
	SecretKey string `json:"secretKey" binding:"required"`
	Region    string `json:"region" binding:"required"`
	Endpoint  string `json:"endpoint"`
	IsDefault bool   `json:"isDefault"`
}

func (r credentialRequest) input() vault.Input {
	return vault.Input{
		Alias:     r.Alias,
		AccessKey: r.AccessKey,
		SecretKey: r.SecretKey,
		Region:    r.Region,
		Endpoint:  r.Endpoint,
		IsDefault: r.IsDefault,
	}
}

func (s *apiServer) listCredentials(c *gin.Context) {
	items, err := s.vault.List(c.Request.Context(), actor(c).UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *apiServer) createCredential(c *gin.Context) {
	var in credentialRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	view, err := s.vault.Create(c.Request.Context(), actor(c), in.input())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *apiServer) getCredential(c *gin.Context) {
	view, err := s.vault.Get(c.Request.Context(), actor(c).UserID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *apiServer) updateCredential(c *gin.Context) {
	var in credentialRequest
	if err := c.ShouldBindJSON(&in); err != nil {
		respondError(c, bindErr(err))
		return
	}
	a := actor(c)
	view, err := s.vault.Update(c.Request.Context(), a, c.Param("id"), in.input())
	if err != nil {
		respondError(c, err)
		return
	}
	s.analytics.Invalidate(a.UserID)
	c.JSON(http.StatusOK, view)
}

func (s *apiServer) deleteCredential(c *gin.Context) {
	a := actor(c)
	if err := s.vault.Delete(c.Request.Context(), a, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.analytics.Invalidate(a.UserID)
	c.Status(http.StatusNoContent)
}

func (s *apiServer) setDefaultCredential(c *gin.Context) {
	a := actor(c)
	if err := s.vault.SetDefault(c.Request.Context(), a, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.analytics.Invalidate(a.UserID)
	c.Status(http.StatusNoContent)
}

func (s *apiServer) validateCredential(c *gin.Context) {
	res, err := s.vault.Validate(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
