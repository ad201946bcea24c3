package middleware

import "github.com/labstack/echo/v4"

// Context keys populated by JWTAuth.
const (
	CtxUserID = "user_id"
	CtxEmail  = "email"
)

// UserID returns the authenticated user's id (ObjectID hex) or "" when the
// request carries no verified access token.
func UserID(c echo.Context) string {
	s, _ := c.Get(CtxUserID).(string)
	return s
}

// Email returns the authenticated user's email or "".
func Email(c echo.Context) string {
	s, _ := c.Get(CtxEmail).(string)
	return s
}
