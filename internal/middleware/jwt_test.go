package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eeredondo/pqrsd/internal/models"
	"github.com/eeredondo/pqrsd/internal/service"
)

func signedToken(t *testing.T, secret string) string {
	t.Helper()
	claims := models.JWTClaims{
		UserID:   7,
		Username: "revisor1",
		FullName: "Revisor Uno",
		Role:     models.RoleReviewer,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func jwtTestContext(t *testing.T, authHeader string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest(http.MethodGet, "/requests", nil)
	if authHeader != "" {
		c.Request.Header.Set("Authorization", authHeader)
	}
	return c, w
}

func TestJWTAcceptsValidToken(t *testing.T) {
	authSvc := service.NewAuthService(nil, nil, zap.NewNop(), service.AuthConfig{Secret: "secret", Expiration: time.Hour})
	c, _ := jwtTestContext(t, "Bearer "+signedToken(t, "secret"))

	JWT(authSvc)(c)
	require.False(t, c.IsAborted())

	value, exists := c.Get(ContextUserKey)
	require.True(t, exists)
	claims := value.(*models.JWTClaims)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, models.RoleReviewer, claims.Role)
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	authSvc := service.NewAuthService(nil, nil, zap.NewNop(), service.AuthConfig{Secret: "secret", Expiration: time.Hour})
	c, w := jwtTestContext(t, "")

	JWT(authSvc)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	authSvc := service.NewAuthService(nil, nil, zap.NewNop(), service.AuthConfig{Secret: "secret", Expiration: time.Hour})
	c, w := jwtTestContext(t, "Bearer "+signedToken(t, "other-secret"))

	JWT(authSvc)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTRejectsMalformedHeader(t *testing.T) {
	authSvc := service.NewAuthService(nil, nil, zap.NewNop(), service.AuthConfig{Secret: "secret", Expiration: time.Hour})
	c, w := jwtTestContext(t, "Token abc")

	JWT(authSvc)(c)
	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
