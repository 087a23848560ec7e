package entity

import "time"

type PasswordResetToken struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	TokenHash string    `gorm:"size:64;not null;uniqueIndex"`
	AccountID string    `gorm:"type:uuid;index;not null"`
	Account   Account   `gorm:"foreignKey:AccountID;references:ID;constraint:OnDelete:CASCADE"`
	ExpiresAt time.Time `gorm:"not null"`
	IsUsed    bool      `gorm:"not null;default:false"`
	UsedAt    *time.Time
	CreatedAt time.Time
}

func (t PasswordResetToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

func (t PasswordResetToken) Redeemable(now time.Time) bool {
	return !t.IsUsed && !t.IsExpired(now)
}
