package domain

// User is the authenticated profile returned by GET /api/auth/me.
type User struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}
