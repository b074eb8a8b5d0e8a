package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/common"
)

const (
	OwnerKey  = "owner"
	ClaimsKey = "claims"
)

// AuthRequired accepts a bearer token signed with secret. revoker may be nil,
// in which case logout cannot invalidate tokens before they expire.
func AuthRequired(secret string, revoker auth.Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "not authenticated")
			return
		}
		claims, err := auth.ParseJWT(token, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid or expired token")
			return
		}
		if revoker != nil && claims.ID != "" {
			revoked, err := revoker.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				common.Fail(c, http.StatusServiceUnavailable, 50301, "session store unavailable")
				return
			}
			if revoked {
				common.Fail(c, http.StatusUnauthorized, 40103, "token revoked")
				return
			}
		}
		c.Set(OwnerKey, claims.Subject)
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func Owner(c *gin.Context) (string, bool) {
	owner := c.GetString(OwnerKey)
	return owner, owner != ""
}

func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
