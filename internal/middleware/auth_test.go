package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/authgrid/authgrid/internal/config"
	"github.com/authgrid/authgrid/internal/keys"
	"github.com/authgrid/authgrid/internal/services"
)

const testIssuer = "https://auth.example.com"

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestCodec(t *testing.T) *services.TokenCodec {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	provider := keys.NewProvider(&config.OAuthConfig{
		KeyID:            "test-key",
		PrivateKeyBase64: base64.StdEncoding.EncodeToString(privPEM),
	})
	return services.NewTokenCodec(provider, testIssuer, nil)
}

func protectedRouter(codec *services.TokenCodec, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	handlers := append([]gin.HandlerFunc{AuthRequired(codec)}, extra...)
	group := router.Group("/", handlers...)
	group.GET("/protected", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"user_id":   GetUserID(c),
			"username":  GetUsername(c),
			"client_id": GetClientID(c),
			"scope":     GetScope(c),
		})
	})
	return router
}

func TestAuthRequired_NoHeader(t *testing.T) {
	router := protectedRouter(newTestCodec(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
	if w.Header().Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header missing")
	}
}

func TestAuthRequired_InvalidFormat(t *testing.T) {
	router := protectedRouter(newTestCodec(t))

	testCases := []string{
		"InvalidToken",
		"Basic dXNlcjpwYXNz",
		"Bearer",
	}

	for _, authHeader := range testCases {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", authHeader)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected status %d, got %d", authHeader, http.StatusUnauthorized, w.Code)
		}
	}
}

func TestAuthRequired_InvalidToken(t *testing.T) {
	router := protectedRouter(newTestCodec(t))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer invalid.jwt.token")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestAuthRequired_ValidToken(t *testing.T) {
	codec := newTestCodec(t)
	token, _, err := codec.GenerateAccessToken(42, "alice", "client-1", "openid profile", time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	router := protectedRouter(codec)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["user_id"].(float64) != 42 {
		t.Errorf("user_id = %v, want 42", body["user_id"])
	}
	if body["username"] != "alice" {
		t.Errorf("username = %v, want alice", body["username"])
	}
	if body["scope"] != "openid profile" {
		t.Errorf("scope = %v", body["scope"])
	}
}

func TestAuthRequired_ExpiredToken(t *testing.T) {
	codec := newTestCodec(t)
	token, _, err := codec.GenerateAccessToken(1, "u", "c", "openid", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	router := protectedRouter(codec)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
	}
}

func TestRequireScopes(t *testing.T) {
	codec := newTestCodec(t)

	tests := []struct {
		name     string
		scope    string
		required []string
		want     int
	}{
		{"has scope", "openid read:profile", []string{"read:profile"}, http.StatusOK},
		{"missing scope", "openid", []string{"read:profile"}, http.StatusForbidden},
		{"needs all scopes", "read:profile", []string{"read:profile", "write:profile"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, _, _ := codec.GenerateAccessToken(1, "u", "c", tt.scope, time.Minute)
			router := protectedRouter(codec, RequireScopes(tt.required...))

			w := httptest.NewRecorder()
			req, _ := http.NewRequest("GET", "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAdminRequired(t *testing.T) {
	codec := newTestCodec(t)

	adminToken, _, _ := codec.GenerateAccessToken(1, "root", "c", "openid admin:system", time.Minute)
	userToken, _, _ := codec.GenerateAccessToken(2, "u", "c", "openid profile", time.Minute)

	router := protectedRouter(codec, AdminRequired())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("admin token status = %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("user token status = %d, want %d", w.Code, http.StatusForbidden)
	}
}
