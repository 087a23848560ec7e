package entity

import (
	"strings"
	"time"
)

// Method tags which authentication variant a Credential holds.
type Method string

const (
	MethodEmail  Method = "EMAIL"
	MethodKakao  Method = "KAKAO"
	MethodNaver  Method = "NAVER"
	MethodApple  Method = "APPLE"
	MethodGoogle Method = "GOOGLE"
)

func ParseMethod(s string) (Method, bool) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case MethodEmail, MethodKakao, MethodNaver, MethodApple, MethodGoogle:
		return m, true
	}
	return "", false
}

func (m Method) IsSocial() bool {
	return m != MethodEmail && m != ""
}

// Credential binds one authentication method to an account. PasswordHash is
// only meaningful for MethodEmail, ProviderID only for social methods.
type Credential struct {
	ID           string  `gorm:"primaryKey;type:uuid"`
	AccountID    string  `gorm:"type:uuid;not null;uniqueIndex:idx_credential_account_method"`
	Method       Method  `gorm:"size:16;not null;uniqueIndex:idx_credential_account_method;uniqueIndex:idx_credential_provider"`
	ProviderID   *string `gorm:"uniqueIndex:idx_credential_provider"`
	PasswordHash *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (Credential) TableName() string {
	return "credential_records"
}

func (c Credential) HasPassword() bool {
	return c.Method == MethodEmail && c.PasswordHash != nil && *c.PasswordHash != ""
}
