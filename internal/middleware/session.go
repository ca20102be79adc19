package middleware

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hxat/annostore/internal/lti"
	"github.com/hxat/annostore/internal/types"
)

// SessionCookie carries the signed LTI session established at launch time.
const SessionCookie = "lti_session"

// SessionHeader is accepted as a fallback for non-browser clients.
const SessionHeader = "X-LTI-Session"

// SessionLocal is the fiber Locals key the session is stored under.
const SessionLocal = "lti"

type sessionClaims struct {
	lti.Session
	jwt.RegisteredClaims
}

// LTISession validates the launch-session token and stores the decoded
// *lti.Session in the request context. Requests without a valid session are
// rejected before any store code runs.
func LTISession(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Cookies(SessionCookie)
		if token == "" {
			token = c.Get(SessionHeader)
		}
		if token == "" {
			return &types.CustomError{
				Code:    fiber.StatusForbidden,
				Message: fmt.Sprintf("LTI session cookie %q not found", SessionCookie),
				Type:    "store.authorization.session",
			}
		}

		sess, err := ParseSession(token, secret)
		if err != nil {
			return &types.CustomError{
				Code:    fiber.StatusForbidden,
				Message: fmt.Sprintf("Invalid LTI session: %v", err),
				Type:    "store.authorization.session",
			}
		}

		c.Locals(SessionLocal, sess)
		return c.Next()
	}
}

// ParseSession verifies a session token and returns its launch context.
func ParseSession(token, secret string) (*lti.Session, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	return &claims.Session, nil
}

// SignSession mints a session token for the given launch context. Called by
// the LTI launch flow and by tests.
func SignSession(sess *lti.Session, secret string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &sessionClaims{Session: *sess})
	return token.SignedString([]byte(secret))
}

// Session returns the launch context attached by LTISession, or nil.
func Session(c *fiber.Ctx) *lti.Session {
	sess, _ := c.Locals(SessionLocal).(*lti.Session)
	return sess
}
