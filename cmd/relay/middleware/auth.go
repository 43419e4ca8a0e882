package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// SecretHeader carries the shared push secret.
const SecretHeader = "X-Secret"

// AuthRequired is a middleware to check for a valid session.
func AuthRequired(c *gin.Context) {
	session := sessions.Default(c)
	user := session.Get("user")
	if user == nil {
		// Data endpoints polled by the page get a plain 401.
		if c.GetHeader("Accept") == "application/json" || c.GetHeader("HX-Request") == "true" {
			c.Header("HX-Redirect", "/login")
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		c.Redirect(http.StatusFound, "/login")
		c.Abort()
		return
	}
	c.Set("user", user)
	c.Next()
}

// PushSecret rejects requests whose X-Secret header does not match secret.
func PushSecret(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(SecretHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}
		c.Next()
	}
}
