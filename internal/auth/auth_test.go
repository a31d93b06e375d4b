package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campverse/internal/attendance"
)

const (
	key    = "test-signing-key"
	issuer = "campverse-test"
)

func TestIssueParse(t *testing.T) {
	tok, exp, err := Issue("fac-1", attendance.RoleFaculty, issuer, key, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, 5*time.Second)

	claims, err := Parse(tok, key, issuer)
	require.NoError(t, err)
	m, err := claims.Marker()
	require.NoError(t, err)
	assert.Equal(t, attendance.Marker{ID: "fac-1", Role: attendance.RoleFaculty}, m)

	_, err = Parse(tok, "other-key", issuer)
	assert.Error(t, err)
	_, err = Parse(tok, key, "someone-else")
	assert.ErrorIs(t, err, ErrIssuerMismatch)
}

func TestParse_Expired(t *testing.T) {
	tok, _, err := Issue("fac-1", attendance.RoleFaculty, issuer, key, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok, key, issuer)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestClaims_UnknownRole(t *testing.T) {
	_, err := Claims{Subject: "x", Role: "dean"}.Marker()
	assert.ErrorIs(t, err, attendance.ErrInvalidRole)
}

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", Authenticate(key, issuer))
	g.GET("/me", func(c *gin.Context) {
		m, _ := MarkerFrom(c)
		c.JSON(http.StatusOK, gin.H{"id": m.ID, "role": m.Role})
	})
	g.GET("/admin", RequireRole(attendance.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	r := router()

	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "/me", "garbage").Code)

	tok, _, err := Issue("stu-1", attendance.RoleStudent, issuer, key, time.Hour)
	require.NoError(t, err)
	w := do(r, "/me", tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"stu-1","role":"STUDENT"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	r := router()

	student, _, err := Issue("stu-1", attendance.RoleStudent, issuer, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, do(r, "/admin", student).Code)

	admin, _, err := Issue("adm-1", attendance.RoleAdmin, issuer, key, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, do(r, "/admin", admin).Code)
}
