package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextActorKey is the gin context key storing the acting user.
const ContextActorKey = "actor"

// SystemActor is attributed to writes that arrive without a usable identity.
const SystemActor = "system"

// Actor resolves the acting user from a bearer token and stores it on the
// context for audit attribution. The trail must never block a domain write,
// so a missing or invalid token degrades to the system actor instead of 401.
func Actor(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextActorKey, SystemActor)
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.Next()
			return
		}
		token, err := jwt.Parse(parts[1], func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.Next()
			return
		}
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, _ := claims["sub"].(string); sub != "" {
				c.Set(ContextActorKey, sub)
			}
		}
		c.Next()
	}
}

// ActorFrom reads the acting user off the context.
func ActorFrom(c *gin.Context) string {
	if actor := c.GetString(ContextActorKey); actor != "" {
		return actor
	}
	return SystemActor
}
