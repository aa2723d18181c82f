package realtime

// Role classifies a portal user on the realtime channel.
type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated principal attached to a connection. It is
// supplied by the identity collaborator at authentication time and is
// immutable for the connection's lifetime.
type Identity struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Email  string `json:"email"`
}
