package entity

import "time"

const (
	ReasonRotated        = "Token rotated"
	ReasonLogout         = "User logout"
	ReasonLogoutAll      = "Logout from all devices"
	ReasonPasswordChange = "Password changed"
	ReasonReuseDetected  = "Refresh token reuse detected"
)

// RefreshToken is one link of a login session's rotation chain. Only the
// SHA-256 of the secret handed to the client is stored.
type RefreshToken struct {
	ID            string    `gorm:"primaryKey;type:uuid"`
	TokenHash     string    `gorm:"size:64;not null;uniqueIndex"`
	AccountID     string    `gorm:"type:uuid;index;not null"`
	Account       Account   `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
	DeviceID      *string   `gorm:"size:128"`
	ExpiresAt     time.Time `gorm:"not null;index"`
	IsRevoked     bool      `gorm:"not null;default:false;index"`
	RevokedAt     *time.Time
	RevokedReason *string
	UsageCount    int `gorm:"not null;default:0"`
	LastUsedAt    *time.Time
	CreatedAt     time.Time
}

func (t RefreshToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Active reports whether the token can still authorize a rotation.
func (t RefreshToken) Active(now time.Time) bool {
	return !t.IsRevoked && !t.IsExpired(now)
}
