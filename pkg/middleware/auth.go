package middleware

import (
	"strings"

	"loyalty-checkin/pkg/auth"
	"loyalty-checkin/pkg/errutil"

	"github.com/gin-gonic/gin"
)

const claimsKey = "auth.claims"

// Authenticate requires a valid bearer token. SSE clients that cannot set
// headers may pass it as the access_token query parameter.
func Authenticate(v *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				Abort(c, errutil.Unauthorized("invalid authorization header format", nil))
				return
			}
			token = parts[1]
		} else {
			token = c.Query("access_token")
		}
		if token == "" {
			Abort(c, errutil.Unauthorized("authorization is required", nil))
			return
		}

		claims, err := v.Parse(token)
		if err != nil {
			Abort(c, errutil.Unauthorized("invalid or expired token", nil))
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !Claims(c).IsAdmin() {
			Abort(c, errutil.Forbidden("admin permission required", nil))
			return
		}
		c.Next()
	}
}

func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}

func UserID(c *gin.Context) string {
	if claims := Claims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
