// Package middleware 提供 HTTP 中间件
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Role 角色类型，与外部账号服务签发的 JWT role 声明对应
type Role string

// 角色常量定义
const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// Permission 权限类型
type Permission string

// 权限常量定义
const (
	PermBookRead          Permission = "book:read"
	PermBookWrite         Permission = "book:write"
	PermGenerationTrigger Permission = "generation:trigger"
	PermAdminAccess       Permission = "admin:access"
)

// rolePermissions 角色-权限映射表
var rolePermissions = map[Role][]Permission{
	RoleAdmin:  {PermBookRead, PermBookWrite, PermGenerationTrigger, PermAdminAccess},
	RoleMember: {PermBookRead, PermBookWrite, PermGenerationTrigger},
	RoleViewer: {PermBookRead},
}

// HasPermission 检查角色是否具有指定权限
func HasPermission(role Role, perm Permission) bool {
	permissions, ok := rolePermissions[role]
	if !ok {
		return false
	}
	for _, p := range permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// RequirePermission 权限检查中间件
// 检查当前用户是否具有指定权限，否则返回 403
func RequirePermission(perm Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		roleStr := c.GetString("role")
		if roleStr == "" {
			abortForbidden(c, "missing role in context")
			return
		}

		if !HasPermission(Role(roleStr), perm) {
			abortForbidden(c, "permission denied")
			return
		}

		c.Next()
	}
}

// RequireRole 角色检查中间件
// 检查当前用户是否为指定角色之一，否则返回 403
func RequireRole(roles ...Role) gin.HandlerFunc {
	roleSet := make(map[Role]bool)
	for _, r := range roles {
		roleSet[r] = true
	}

	return func(c *gin.Context) {
		roleStr := c.GetString("role")
		if roleStr == "" {
			abortForbidden(c, "missing role in context")
			return
		}

		if !roleSet[Role(roleStr)] {
			abortForbidden(c, "role not allowed")
			return
		}

		c.Next()
	}
}

// RequireAdmin 管理员权限检查中间件（便捷方法）
func RequireAdmin() gin.HandlerFunc {
	return RequirePermission(PermAdminAccess)
}

// abortForbidden 终止请求并返回 403
func abortForbidden(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"code":     403,
		"message":  msg,
		"trace_id": c.GetString("trace_id"),
	})
}
