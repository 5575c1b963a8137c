package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const secret = "test-secret"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(secret, "alice", time.Now())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	userID, err := ParseToken(secret, token)
	if err != nil || userID != "alice" {
		t.Fatalf("ParseToken = %q, %v", userID, err)
	}

	if _, err := ParseToken("other-secret", token); err == nil {
		t.Error("token accepted with the wrong secret")
	}

	expired, _ := IssueToken(secret, "alice", time.Now().Add(-48*time.Hour))
	if _, err := ParseToken(secret, expired); err == nil {
		t.Error("expired token accepted")
	}
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	claims := JWTClaims{UserID: "alice"}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ParseToken(secret, token); err == nil {
		t.Fatal("unsigned token accepted")
	}
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := logrus.New()
	l.SetOutput(io.Discard)

	router := gin.New()
	router.GET("/me", JWTAuth(secret, logrus.NewEntry(l)), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(UserIDKey))
	})

	good, _ := IssueToken(secret, "alice", time.Now())
	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + good, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d", w.Code, tt.status)
			}
			if tt.status == http.StatusOK && w.Body.String() != "alice" {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}
