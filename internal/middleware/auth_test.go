package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func authRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	chain := append([]gin.HandlerFunc{Auth(testSecret)}, handlers...)
	chain = append(chain, func(c *gin.Context) {
		id, _ := CurrentUserID(c)
		c.String(http.StatusOK, id)
	})
	router.GET("/protected", chain...)
	return router
}

func TestAuth(t *testing.T) {
	valid := func(claims jwt.MapClaims) jwt.MapClaims {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
		return claims
	}

	tests := []struct {
		name       string
		setup      func(r *http.Request)
		wantStatus int
		wantUserID string
	}{
		{
			name:       "Missing token",
			setup:      func(r *http.Request) {},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "Malformed header",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Token abc")
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "Wrong secret",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, "other", valid(jwt.MapClaims{"user_id": "7"})))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "Expired token",
			setup: func(r *http.Request) {
				claims := jwt.MapClaims{"user_id": "7", "exp": time.Now().Add(-time.Minute).Unix()}
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "No user claim",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, valid(jwt.MapClaims{"role": "admin"})))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "Bearer header with user_id",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, valid(jwt.MapClaims{"user_id": "7"})))
			},
			wantStatus: http.StatusOK,
			wantUserID: "7",
		},
		{
			name: "Numeric sub claim",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "bearer "+signToken(t, testSecret, valid(jwt.MapClaims{"sub": 12})))
			},
			wantStatus: http.StatusOK,
			wantUserID: "12",
		},
		{
			name: "Name identifier claim",
			setup: func(r *http.Request) {
				claims := valid(jwt.MapClaims{"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier": "abc"})
				r.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, claims))
			},
			wantStatus: http.StatusOK,
			wantUserID: "abc",
		},
		{
			name: "Query token",
			setup: func(r *http.Request) {
				q := r.URL.Query()
				q.Set("access_token", signToken(t, testSecret, valid(jwt.MapClaims{"nameid": "9"})))
				r.URL.RawQuery = q.Encode()
			},
			wantStatus: http.StatusOK,
			wantUserID: "9",
		},
	}

	router := authRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.wantUserID, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), `"success":false`)
			}
		})
	}
}

func TestAuth_PanicsWithoutSecret(t *testing.T) {
	assert.Panics(t, func() { Auth("") })
}

type staffLookupFunc func(ctx context.Context, id string) (*domain.Staff, error)

func (f staffLookupFunc) FindByID(ctx context.Context, id string) (*domain.Staff, error) {
	return f(ctx, id)
}

func TestRequireStaff(t *testing.T) {
	lookup := staffLookupFunc(func(_ context.Context, id string) (*domain.Staff, error) {
		switch id {
		case "1":
			return &domain.Staff{ID: "1", IsActive: true}, nil
		case "2":
			return &domain.Staff{ID: "2", IsActive: false}, nil
		case "3":
			return nil, errors.New("db down")
		}
		return nil, repository.ErrStaffNotFound
	})
	router := authRouter(RequireStaff(lookup))

	tests := []struct {
		userID     string
		wantStatus int
	}{
		{"1", http.StatusOK},
		{"2", http.StatusForbidden},
		{"3", http.StatusInternalServerError},
		{"404", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run("user "+tt.userID, func(t *testing.T) {
			token := signToken(t, testSecret, jwt.MapClaims{"user_id": tt.userID, "exp": time.Now().Add(time.Hour).Unix()})
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS("http://localhost:3000"))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("Preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/x", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("Simple request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestCORS_WildcardEchoesOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(CORS("*"))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("With origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("Origin", "https://admin.example.com")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
		assert.Equal(t, "Origin", w.Header().Get("Vary"))
	})

	t.Run("Without origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	})
}
