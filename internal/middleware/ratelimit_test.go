package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
)

func rateLimitRouter(t *testing.T, max int) (*gin.Engine, *miniredis.Miniredis) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	router := gin.New()
	router.Use(RateLimit(client, "test:", max, time.Minute))
	router.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return router, mr
}

func doGet(router *gin.Engine, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.RemoteAddr = ip + ":12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimit_RejectsAfterMax(t *testing.T) {
	router, mr := rateLimitRouter(t, 2)

	w := doGet(router, "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))

	w = doGet(router, "10.0.0.1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doGet(router, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// 其他 IP 单独计数
	w = doGet(router, "10.0.0.2")
	assert.Equal(t, http.StatusOK, w.Code)

	assert.True(t, mr.Exists("test:ratelimit:10.0.0.1"))
	assert.Equal(t, time.Minute, mr.TTL("test:ratelimit:10.0.0.1"))
}

func TestRateLimit_WindowExpires(t *testing.T) {
	router, mr := rateLimitRouter(t, 1)

	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, doGet(router, "10.0.0.1").Code)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusOK, doGet(router, "10.0.0.1").Code)
}

func TestRateLimit_RedisDownAllowsRequest(t *testing.T) {
	router, mr := rateLimitRouter(t, 1)
	mr.Close()

	w := doGet(router, "10.0.0.1")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_PanicsOnInvalidConfig(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	assert.Panics(t, func() { RateLimit(nil, "", 1, time.Second) })
	assert.Panics(t, func() { RateLimit(client, "", 0, time.Second) })
	assert.Panics(t, func() { RateLimit(client, "", 1, 0) })
}
