package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"callcrm/internal/model"
	"callcrm/internal/pkg/session"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID  = "userID"
	ctxRole    = "role"
	ctxSession = "session"
)

// SessionValidator 校验会话令牌。
type SessionValidator interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
}

// SessionAuth 从 Cookie 或 Authorization: Bearer 头读取会话令牌并校验，
// 通过后把 userID、role 与会话写入请求上下文。
func SessionAuth(sessions SessionValidator, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		sess, err := sessions.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
				return
			}
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
			return
		}

		c.Set(ctxUserID, sess.UserID)
		c.Set(ctxRole, sess.Role)
		c.Set(ctxSession, sess)
		c.Next()
	}
}

// TokenFromRequest 优先读取 Cookie，其次读取 Bearer 令牌。
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if cookieName != "" {
		if v, err := c.Cookie(cookieName); err == nil && v != "" {
			return v
		}
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// UserID 返回当前登录用户 ID。
func UserID(c *gin.Context) (uint, bool) {
	v, ok := c.Get(ctxUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint)
	return id, ok && id > 0
}

// Role 返回当前登录用户角色。
func Role(c *gin.Context) model.Role {
	v, _ := c.Get(ctxRole)
	role, _ := v.(model.Role)
	return role
}

// CurrentSession 返回当前请求的会话。
func CurrentSession(c *gin.Context) *session.Session {
	v, _ := c.Get(ctxSession)
	sess, _ := v.(*session.Session)
	return sess
}

// SetIdentity 把身份写入上下文，供测试或内部路由直接注入。
func SetIdentity(c *gin.Context, userID uint, role model.Role) {
	c.Set(ctxUserID, userID)
	c.Set(ctxRole, role)
}
