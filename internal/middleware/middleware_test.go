package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arencloud/s3keeper/internal/logging"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() { gin.SetMode(gin.TestMode) }

func TestPrincipal(t *testing.T) {
	r := gin.New()
	r.Use(Principal("X-User"))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, User(c)) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("X-User", " alice ")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", w.Body.String())
}

func TestAdmin(t *testing.T) {
	r := gin.New()
	r.Use(Principal("X-User"), Admin([]string{"ops"}))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for user, want := range map[string]int{"ops": http.StatusNoContent, "alice": http.StatusForbidden} {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, user)
	}

	r = gin.New()
	r.Use(Principal("X-User"), Admin(nil))
	r.GET("/admin", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("X-User", "ops")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRecoverer(t *testing.T) {
	r := gin.New()
	r.Use(Recoverer(logging.Nop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL")
}
