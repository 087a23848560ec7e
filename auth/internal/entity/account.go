package entity

import "time"

type AccountStatus string

const (
	StatusActive    AccountStatus = "ACTIVE"
	StatusSleep     AccountStatus = "SLEEP"
	StatusSuspended AccountStatus = "SUSPENDED"
	StatusDeleted   AccountStatus = "DELETED"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSleep, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

type Account struct {
	ID               string        `gorm:"primaryKey;type:uuid"`
	Email            *string       `gorm:"uniqueIndex"`
	Nickname         string        `gorm:"size:20;not null"`
	Status           AccountStatus `gorm:"size:16;not null;default:ACTIVE;index"`
	MarketingConsent bool          `gorm:"not null;default:false"`
	CreatedAt        time.Time
	LastLogin        *time.Time
	UpdatedAt        time.Time

	Credentials []Credential `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
}

func (a Account) IsActive() bool {
	return a.Status == StatusActive
}

// EmailValue returns the email or an empty string for social-only accounts.
func (a Account) EmailValue() string {
	if a.Email == nil {
		return ""
	}
	return *a.Email
}
