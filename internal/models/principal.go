package models

// Role is the side a principal plays in a booking.
type Role string

const (
	RoleRequester Role = "requester"
	RoleFulfiller Role = "fulfiller"
)

// Principal is an authenticated actor resolved from the identity store.
type Principal struct {
	ID    int64  `db:"id" json:"id"`
	Role  Role   `db:"role" json:"role"`
	Name  string `db:"name" json:"name"`
	Phone string `db:"phone" json:"phone,omitempty"`
}
