package middlewares

import (
	"net/http"
	"strings"
	"time"

	"fieldserve.com/fieldserve/web/common"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const tenantKey = "tenantID"

func parseJwt(tokenStr string, jwtSecret []byte) (*jwt.Token, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	return token, err
}

// Authentication checks for a valid Bearer token and resolves the tenant from
// its claims. Downstream handlers trust the resolved tenant verbatim.
func Authentication(jwtSecret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := ""

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// Try to get from cookie
			cookie, err := c.Cookie("fieldserve.ApplicationCookie")
			if err != nil {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}

			tokenStr = cookie
		} else {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				c.AbortWithStatus(http.StatusUnauthorized)
				return
			}

			tokenStr = parts[1]
		}

		token, err := parseJwt(tokenStr, jwtSecret)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("invalid or expired token"))
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if exp, ok := claims["exp"].(float64); ok && int64(exp) < time.Now().Unix() {
				c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("token expired"))
				return
			}

			tenant, _ := claims["tenant_id"].(string)
			if tenant == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, common.NewErrorResponse("token carries no tenant"))
				return
			}

			c.Set("claims", claims)
			c.Set(tenantKey, tenant)
		}

		c.Next()
	}
}

// TenantFromContext returns the tenant resolved by Authentication, or "".
func TenantFromContext(c *gin.Context) string {
	tenant, _ := c.Get(tenantKey)
	s, _ := tenant.(string)
	return s
}
