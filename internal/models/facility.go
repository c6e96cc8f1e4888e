package models

import (
	"time"

	"github.com/lib/pq"
)

// Facility is a physical or organizational unit with one head manager and a
// technician roster.
type Facility struct {
	FacilityID  string         `gorm:"primaryKey;type:varchar(64)" json:"facility_id"`
	Name        string         `gorm:"type:varchar(255);not null" json:"name"`
	HeadManager string         `gorm:"type:varchar(64);index;not null" json:"head_manager"`
	Technicians pq.StringArray `gorm:"type:text[]" json:"technicians"`
	Status      string         `gorm:"type:varchar(32)" json:"status,omitempty"`
	Location    string         `gorm:"type:varchar(255)" json:"location,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// HasTechnician reports whether userID is on the facility's roster.
func (f *Facility) HasTechnician(userID string) bool {
	for _, t := range f.Technicians {
		if t == userID {
			return true
		}
	}
	return false
}

// IsHead reports whether userID is the facility's head manager.
func (f *Facility) IsHead(userID string) bool {
	return userID != "" && f.HeadManager == userID
}
