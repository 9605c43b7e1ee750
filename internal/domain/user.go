package domain

// Role represents what an identity may do in the client.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// IsValid checks if the role is known.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is a resolved identity as stored in the profiles table.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
	Avatar string `json:"avatar,omitempty"`
}

// IsAdmin returns true for administrators.
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}
