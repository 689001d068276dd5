package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-service/internal/mocks"
)

func setupRouter(resolver *mocks.ResolverMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", AuthMiddleware(resolver), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID")})
	})
	return r
}

func TestAuthMiddlewareSetsUser(t *testing.T) {
	resolver := new(mocks.ResolverMock)
	resolver.On("Resolve", mock.Anything, "good").Return(7, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	setupRouter(resolver).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"user_id":7}`, rec.Body.String())
	resolver.AssertExpectations(t)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	resolver := new(mocks.ResolverMock)
	resolver.On("Resolve", mock.Anything, "bad").Return(0, assert.AnError).Once()

	cases := map[string]string{
		"missing":  "",
		"scheme":   "Basic bad",
		"resolver": "Bearer bad",
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		setupRouter(resolver).ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code, name)
	}
	resolver.AssertExpectations(t)
}
