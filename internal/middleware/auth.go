package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"github.com/lsiswin/RecyclingApi-sub001/internal/domain"
	"github.com/lsiswin/RecyclingApi-sub001/internal/dto"
	"github.com/lsiswin/RecyclingApi-sub001/internal/repository"
)

// ContextUserIDKey 是认证后写入 gin.Context 的用户 ID 键
const ContextUserIDKey = "user_id"

// 后台系统签发的 Token 可能使用以下任一声明携带用户 ID
var userIDClaims = []string{
	"user_id",
	"sub",
	"nameid",
	"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/nameidentifier",
}

// ErrMissingAuthHeader 表示请求中没有 Token
var ErrMissingAuthHeader = errors.New("missing Authorization header")

// Auth 返回一个 Gin 中间件，用于验证 JWT token。
// Token 从 Authorization 头读取；WebSocket 握手无法设置请求头，因此也接受 access_token 查询参数。
func Auth(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		panic("JWT secret cannot be empty for Auth middleware")
	}

	return func(c *gin.Context) {
		tokenStr, err := extractToken(c)
		if err != nil {
			if errors.Is(err, ErrMissingAuthHeader) {
				logrus.Warn("Auth middleware: Missing Authorization header")
				abort(c, http.StatusUnauthorized, "Authorization header is required")
			} else {
				logrus.Warnf("Auth middleware: Malformed token format: %v", err)
				abort(c, http.StatusUnauthorized, "Invalid token format")
			}
			return
		}

		claims, err := validateToken(tokenStr, jwtSecret)
		if err != nil {
			logCtx := logrus.WithError(err)
			logCtx.Warn("Auth middleware: Invalid token")
			var validationError *jwt.ValidationError
			if errors.As(err, &validationError) {
				if validationError.Errors&jwt.ValidationErrorExpired != 0 {
					logCtx.Warn("Reason: Token is expired")
				}
				if validationError.Errors&jwt.ValidationErrorSignatureInvalid != 0 {
					logCtx.Warn("Reason: Token signature is invalid")
				}
			}
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		userID, ok := userIDFromClaims(claims)
		if !ok {
			logrus.Error("Auth middleware: user id claim missing in token")
			abort(c, http.StatusUnauthorized, "Token does not identify a user")
			return
		}

		c.Set(ContextUserIDKey, userID)
		logrus.WithField("user_id", userID).Debug("Auth middleware: User authenticated via JWT")
		c.Next()
	}
}

// CurrentUserID 读取 Auth 中间件写入的用户 ID
func CurrentUserID(c *gin.Context) (string, bool) {
	v, exists := c.Get(ContextUserIDKey)
	if !exists {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

// StaffLookup 用于确认当前用户是客服
type StaffLookup interface {
	FindByID(ctx context.Context, id string) (*domain.Staff, error)
}

// RequireStaff 要求当前用户是启用中的客服，需放在 Auth 之后。
func RequireStaff(staff StaffLookup) gin.HandlerFunc {
	if staff == nil {
		panic("StaffLookup cannot be nil for RequireStaff middleware")
	}
	return func(c *gin.Context) {
		userID, ok := CurrentUserID(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "User not authenticated")
			return
		}
		member, err := staff.FindByID(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, repository.ErrStaffNotFound) {
				logrus.WithField("user_id", userID).Warn("RequireStaff: user is not a chat staff member")
				abort(c, http.StatusForbidden, "Chat staff access required")
				return
			}
			logrus.WithError(err).WithField("user_id", userID).Error("RequireStaff: failed to load staff")
			abort(c, http.StatusInternalServerError, "An unexpected error occurred")
			return
		}
		if !member.IsActive {
			abort(c, http.StatusForbidden, "Staff account is disabled")
			return
		}
		c.Next()
	}
}

// extractToken 从 Authorization 头或 access_token 查询参数中提取 Token
func extractToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if q := c.Query("access_token"); q != "" {
			return q, nil
		}
		return "", ErrMissingAuthHeader
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", jwt.ErrTokenMalformed
	}
	return parts[1], nil
}

// validateToken 解析并验证 JWT token 字符串 (HS256)
func validateToken(tokenStr string, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token or claims type")
}

// userIDFromClaims 依次尝试已知的声明名称。JSON 数字会被解析为 float64。
func userIDFromClaims(claims jwt.MapClaims) (string, bool) {
	for _, name := range userIDClaims {
		switch v := claims[name].(type) {
		case string:
			if v != "" {
				return v, true
			}
		case float64:
			if v > 0 && v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10), true
			}
		}
	}
	return "", false
}

func abort(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, dto.Fail(message))
}
