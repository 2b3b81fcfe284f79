// Package middleware 提供 HTTP 中间件
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

// IdentityContextKey 身份上下文 Key 类型
type IdentityContextKey string

const (
	// UserIDKey 用户 ID 上下文 Key
	UserIDKey IdentityContextKey = "user_id"
	// RoleKey 角色上下文 Key
	RoleKey IdentityContextKey = "role"
)

// Identity 身份上下文中间件
// 把 Auth 中间件解析出的用户信息下沉到 request context，
// 便于应用层与仓储层读取。
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		if userID := c.GetString("user_id"); userID != "" {
			ctx = context.WithValue(ctx, UserIDKey, userID)
		}
		if role := c.GetString("role"); role != "" {
			ctx = context.WithValue(ctx, RoleKey, role)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetUserID 从 context 中获取用户 ID
func GetUserID(ctx context.Context) string {
	if v := ctx.Value(UserIDKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetUserIDFromGin 从 Gin Context 中获取用户 ID
func GetUserIDFromGin(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetRoleFromGin 从 Gin Context 中获取角色
func GetRoleFromGin(c *gin.Context) string {
	return c.GetString("role")
}
