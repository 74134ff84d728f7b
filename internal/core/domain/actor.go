package domain

import "github.com/google/uuid"

type Role string

const (
	RoleClient   Role = "CLIENT"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// Actor is the authenticated caller of a booking command.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type ProviderAccount struct {
	ProviderID  uuid.UUID
	RecipientID string
}
