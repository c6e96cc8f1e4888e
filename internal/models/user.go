package models

import (
	"time"

	"github.com/lib/pq"
)

const (
	RoleRequester  = "Requester"
	RoleManager    = "Manager"
	RoleTechnician = "Technician"
	RoleAdmin      = "Admin"
)

// User is a directory entry. The core reads it to resolve notification
// recipients; roles are stored exactly as assigned.
type User struct {
	UserID    string         `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	Name      string         `gorm:"type:varchar(255);not null" json:"name"`
	Email     string         `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Roles     pq.StringArray `gorm:"type:text[]" json:"roles"`
	Status    string         `gorm:"type:varchar(16)" json:"status,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Principal is an authenticated actor.
type Principal struct {
	UserID string
	Roles  []string
}

// Capabilities is the derived permission set of a role list.
type Capabilities struct {
	IsAdmin             bool
	CanManageFacility   bool
	CanDoTechnicianWork bool
	CanRequest          bool
}

// Capabilities derives the capability set from the principal's roles.
// Admin supersedes every other role; Manager implies Technician work.
func (p Principal) Capabilities() Capabilities {
	return CapabilitiesOf(p.Roles)
}

func CapabilitiesOf(roles []string) Capabilities {
	var c Capabilities
	for _, r := range roles {
		switch r {
		case RoleAdmin:
			return Capabilities{IsAdmin: true}
		case RoleManager:
			c.CanManageFacility = true
			c.CanDoTechnicianWork = true
			c.CanRequest = true
		case RoleTechnician:
			c.CanDoTechnicianWork = true
			c.CanRequest = true
		case RoleRequester:
			c.CanRequest = true
		}
	}
	return c
}
