package domain

type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleCustomer Role = "CUSTOMER"
)

// Caller is the authenticated identity behind an operation.
type Caller struct {
	UserID int64
	Role   Role
}

func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin && c.UserID != 0
}

func (c Caller) Owns(r *Rental) bool {
	return c.UserID != 0 && r != nil && r.UserID == c.UserID
}

func RequireAdmin(c Caller) error {
	if c.UserID == 0 {
		return ErrUnauthenticated
	}
	if !c.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

func RequireOwnerOrAdmin(c Caller, r *Rental) error {
	if c.UserID == 0 {
		return ErrUnauthenticated
	}
	if c.IsAdmin() || c.Owns(r) {
		return nil
	}
	return ErrForbidden
}
