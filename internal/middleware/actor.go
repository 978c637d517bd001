package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sqlclassroom-api/internal/models"
)

const (
	// SessionHeader carries the browser session id of anonymous callers.
	SessionHeader = "X-Session-ID"
	// SessionCookie is the fallback when the header is absent.
	SessionCookie = "sessionid"

	maxSessionIDLength = 128
)

// CurrentActor resolves the caller: JWT claims when authenticated, else the
// session id from the header or cookie.
func CurrentActor(c *gin.Context) models.Actor {
	var actor models.Actor
	if claims, ok := Claims(c); ok {
		actor.UserID = claims.UserID
		actor.Role = claims.Role
	}
	actor.SessionID = sessionID(c)
	return actor
}

func sessionID(c *gin.Context) string {
	sid := strings.TrimSpace(c.GetHeader(SessionHeader))
	if sid == "" {
		if cookie, err := c.Cookie(SessionCookie); err == nil {
			sid = strings.TrimSpace(cookie)
		}
	}
	if len(sid) > maxSessionIDLength {
		return ""
	}
	return sid
}
