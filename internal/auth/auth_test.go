package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "password123", false},
		{"empty password", "", false},
		{"long password", "a" + string(make([]byte, 70)), false}, // bcrypt max is 72 bytes
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := HashPassword(tt.password)
			if (err != nil) != tt.wantErr {
				t.Errorf("HashPassword() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && hash == "" {
				t.Error("HashPassword() returned empty hash")
			}
			if hash == tt.password && tt.password != "" {
				t.Error("HashPassword() stored the plaintext")
			}
		})
	}
}

func TestHashPassword_DifferentHashes(t *testing.T) {
	password := "testpassword"
	hash1, _ := HashPassword(password)
	hash2, _ := HashPassword(password)

	if hash1 == hash2 {
		t.Error("HashPassword() should produce different hashes for same password")
	}
}

func TestVerifyPassword(t *testing.T) {
	password := "testpassword123"
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"correct password", hash, password, true},
		{"wrong password", hash, "wrongpassword", false},
		{"empty password", hash, "", false},
		{"invalid hash", "invalidhash", password, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIssuer_Issue(t *testing.T) {
	iss := NewIssuer("test-secret", 2*time.Hour, 7*24*time.Hour)
	before := time.Now()

	pair, err := iss.Issue(42, "alice")
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.True(t, pair.AccessExpiresAt.After(before))
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))
}

func TestIssuer_IssueIsUniquePerCall(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour, 24*time.Hour)
	fixed := time.Now()
	iss.now = func() time.Time { return fixed }

	p1, err := iss.Issue(1, "alice")
	require.NoError(t, err)
	p2, err := iss.Issue(1, "alice")
	require.NoError(t, err)

	assert.NotEqual(t, p1.AccessToken, p2.AccessToken)
	assert.NotEqual(t, p1.RefreshToken, p2.RefreshToken)
}

func TestIssuer_VerifyAccess(t *testing.T) {
	secret := "test-secret-key"
	iss := NewIssuer(secret, 15*time.Minute, time.Hour)
	pair, err := iss.Issue(42, "alice")
	require.NoError(t, err)

	tests := []struct {
		name    string
		issuer  *Issuer
		token   string
		wantUID uint
	}{
		{"valid token", iss, pair.AccessToken, 42},
		{"wrong secret", NewIssuer("wrong-secret", time.Minute, time.Hour), pair.AccessToken, 0},
		{"refresh token is not an access token", iss, pair.RefreshToken, 0},
		{"invalid token", iss, "invalid.token.here", 0},
		{"empty token", iss, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := tt.issuer.VerifyAccess(tt.token)
			if tt.wantUID == 0 {
				assert.Nil(t, claims)
				return
			}
			require.NotNil(t, claims)
			assert.Equal(t, tt.wantUID, claims.UserID)
			assert.Equal(t, "alice", claims.Username)
		})
	}
}

func TestIssuer_VerifyRefresh(t *testing.T) {
	iss := NewIssuer("test-secret", time.Minute, time.Hour)
	pair, err := iss.Issue(7, "bob")
	require.NoError(t, err)

	claims := iss.VerifyRefresh(pair.RefreshToken)
	require.NotNil(t, claims)
	assert.Equal(t, uint(7), claims.UserID)

	assert.Nil(t, iss.VerifyRefresh(pair.AccessToken), "access token must not pass as refresh token")
}

func TestIssuer_Expired(t *testing.T) {
	iss := NewIssuer("test-secret", time.Minute, time.Hour)
	pair, err := iss.Issue(1, "alice")
	require.NoError(t, err)

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	assert.Nil(t, iss.VerifyAccess(pair.AccessToken))
	assert.NotNil(t, iss.VerifyRefresh(pair.RefreshToken))
}

type stubSessions struct {
	tokens map[uint]string
	err    error
}

func (s stubSessions) AccessToken(_ context.Context, userID uint) (string, error) {
	return s.tokens[userID], s.err
}

func TestGate_Authenticate(t *testing.T) {
	iss := NewIssuer("test-secret", time.Hour, 24*time.Hour)
	old, err := iss.Issue(1, "alice")
	require.NoError(t, err)
	cur, err := iss.Issue(1, "alice")
	require.NoError(t, err)

	gate := NewGate(iss, stubSessions{tokens: map[uint]string{1: cur.AccessToken}})
	ctx := context.Background()

	assert.NotNil(t, gate.Authenticate(ctx, cur.AccessToken))
	assert.Nil(t, gate.Authenticate(ctx, old.AccessToken), "reissued pair must invalidate the previous access token")
	assert.Nil(t, gate.Authenticate(ctx, "garbage"))

	failing := NewGate(iss, stubSessions{err: errors.New("db down")})
	assert.Nil(t, failing.Authenticate(ctx, cur.AccessToken))

	stateless := NewGate(iss, nil)
	assert.NotNil(t, stateless.Authenticate(ctx, old.AccessToken))
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", BearerToken(r))

	r.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", BearerToken(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", BearerToken(r))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	iss := NewIssuer("test-secret", time.Hour, 24*time.Hour)
	pair, err := iss.Issue(9, "carol")
	require.NoError(t, err)
	gate := NewGate(iss, stubSessions{tokens: map[uint]string{9: pair.AccessToken}})

	r := gin.New()
	r.GET("/me", Middleware(gate), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetUserID(c), "name": GetClaims(c).Username})
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + pair.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.JSONEq(t, `{"id":9,"name":"carol"}`, w.Body.String())
			}
		})
	}
}
