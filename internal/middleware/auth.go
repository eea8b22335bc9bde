package middleware

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"expensehub/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func GetJWTSecret() []byte {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		if os.Getenv("GIN_MODE") == "release" {
			panic("FATAL: JWT_SECRET environment variable is required in production mode")
		}
		secret = "default_super_secret_key" // development fallback only
	}
	return []byte(secret)
}

// SetTokenCookies sets access_token and refresh_token as HttpOnly cookies
func SetTokenCookies(c *gin.Context, accessToken, refreshToken string) {
	// Production (cross-origin): SameSiteNoneMode + Secure=true
	// Development (same-site):   SameSiteLaxMode  + Secure=false
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", accessToken, 3600, "/", "", secure, true)
	c.SetCookie("refresh_token", refreshToken, 3600*24*7, "/", "", secure, true)
}

// ClearTokenCookies removes access_token and refresh_token cookies
func ClearTokenCookies(c *gin.Context) {
	sameSite := http.SameSiteLaxMode
	secure := false
	if os.Getenv("GIN_MODE") == "release" {
		sameSite = http.SameSiteNoneMode
		secure = true
	}

	c.SetSameSite(sameSite)
	c.SetCookie("access_token", "", -1, "/", "", secure, true)
	c.SetCookie("refresh_token", "", -1, "/", "", secure, true)
}

// authDB holds the database reference for token and permission checks, set via Init
var authDB *gorm.DB

// Init sets the DB reference used by the auth middleware
func Init(db *gorm.DB) {
	authDB = db
}

// permCacheEntry stores cached permission names for a (user, rolesVersion) pair.
// The rolesVersion in the key makes the cache self-invalidating: any role
// mutation bumps the version and subsequent requests miss.
type permCacheEntry struct {
	names     []string
	expiresAt time.Time
}

var (
	permCache    sync.Map // "userID:rolesVersion" -> permCacheEntry
	permCacheTTL = 5 * time.Minute
)

func extractToken(c *gin.Context) (string, bool) {
	tokenString, cookieErr := c.Cookie("access_token")
	if cookieErr == nil && tokenString != "" {
		return tokenString, true
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}

// Authenticate validates the JWT and the rolesVersion claim. The claim is
// compared against the user's current column value on every request, so a
// token minted before a role change stops working without a blacklist.
func Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing or malformed"))
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return GetJWTSecret(), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}

		sub, _ := claims["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token subject"))
			return
		}

		tokenVersion, ok := claims["rv"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Token missing roles version"))
			return
		}

		currentVersion, err := currentRolesVersion(userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Unknown or disabled account"))
			return
		}
		if int(tokenVersion) != currentVersion {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Session invalidated by a role change, please log in again"))
			return
		}

		c.Set("userID", userID)
		if email, ok := claims["email"].(string); ok {
			c.Set("userEmail", email)
		}
		c.Set("rolesVersion", currentVersion)

		c.Next()
	}
}

// RequirePermission checks the authenticated user's effective permission set.
// Must run after Authenticate.
func RequirePermission(requiredPerms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := c.Get("userID")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Not authenticated"))
			return
		}
		version := c.GetInt("rolesVersion")

		perms, err := getUserPermissions(userID.(uuid.UUID), version)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, response.Error(http.StatusInternalServerError, "Failed to verify permissions"))
			return
		}

		permSet := make(map[string]bool, len(perms))
		for _, p := range perms {
			permSet[p] = true
		}

		for _, required := range requiredPerms {
			if !permSet[required] {
				c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: missing permission '"+required+"'"))
				return
			}
		}

		c.Next()
	}
}

func currentRolesVersion(userID uuid.UUID) (int, error) {
	if authDB == nil {
		return 0, fmt.Errorf("auth middleware not initialized")
	}
	var row struct {
		RolesVersion int
		IsActive     bool
	}
	err := authDB.Raw(`SELECT roles_version, is_active FROM users WHERE id = ? AND deleted_at IS NULL`, userID).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	if !row.IsActive {
		return 0, fmt.Errorf("account disabled")
	}
	return row.RolesVersion, nil
}

// getUserPermissions returns cached or DB-fetched permission names for a user
func getUserPermissions(userID uuid.UUID, rolesVersion int) ([]string, error) {
	key := fmt.Sprintf("%s:%d", userID, rolesVersion)
	if entry, ok := permCache.Load(key); ok {
		cached := entry.(permCacheEntry)
		if time.Now().Before(cached.expiresAt) {
			return cached.names, nil
		}
	}

	if authDB == nil {
		return nil, fmt.Errorf("auth middleware not initialized")
	}

	var names []string
	err := authDB.Raw(`
		SELECT DISTINCT p.name FROM permissions p
		INNER JOIN role_permissions rp ON rp.permission_id = p.id
		INNER JOIN roles r ON r.id = rp.role_id
		INNER JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = ? AND r.is_active = true
	`, userID).Pluck("name", &names).Error
	if err != nil {
		return nil, err
	}

	permCache.Store(key, permCacheEntry{
		names:     names,
		expiresAt: time.Now().Add(permCacheTTL),
	})
	return names, nil
}

// ClearPermissionCache drops every cached permission set
func ClearPermissionCache() {
	permCache.Range(func(key, _ interface{}) bool {
		permCache.Delete(key)
		return true
	})
}
