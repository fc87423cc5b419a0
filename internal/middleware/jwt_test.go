package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/pkg/token"
)

func newTestCodec() *token.Codec {
	return token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  15 * time.Minute,
	})
}

func newJWTRouter(codec *token.Codec) *gin.Engine {
	gin.SetMode(gin.TestMode)
	authSvc := service.NewAuthService(nil, codec, nil, nil, nil, nil, service.AuthConfig{})
	router := gin.New()
	router.GET("/protected", JWT(authSvc), func(c *gin.Context) {
		claims, ok := c.Get(ContextUserKey)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": claims.(*token.Claims).UserID})
	})
	return router
}

func TestJWTMiddlewareAcceptsValidToken(t *testing.T) {
	codec := newTestCodec()
	router := newJWTRouter(codec)

	accessToken, _, err := codec.GenerateAccessToken("u1", "alice@example.com", "USER")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body: %s", recorder.Code, recorder.Body.String())
	}
}

func TestJWTMiddlewareRejectsMissingHeader(t *testing.T) {
	router := newJWTRouter(newTestCodec())

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareRejectsMalformedHeader(t *testing.T) {
	router := newJWTRouter(newTestCodec())

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareRejectsExpiredToken(t *testing.T) {
	expiredCodec := token.NewCodec(token.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessExpiry:  -time.Minute,
	})
	router := newJWTRouter(newTestCodec())

	accessToken, _, err := expiredCodec.GenerateAccessToken("u1", "alice@example.com", "USER")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}

func TestJWTMiddlewareRejectsRefreshTokenOnProtectedRoute(t *testing.T) {
	codec := newTestCodec()
	router := newJWTRouter(codec)

	refreshToken, _, err := codec.GenerateRefreshToken("u1", "alice@example.com", "USER")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	recorder := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+refreshToken)
	router.ServeHTTP(recorder, req)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}
}
