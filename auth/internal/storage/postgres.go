package storage

import (
	"fmt"

	"github.com/dyjung/logindemo/auth/internal/config"
	"github.com/dyjung/logindemo/auth/internal/entity"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitDB(cfg config.DBConfig, autoMigrate bool) (*gorm.DB, error) {
	const op = "storage.InitDB"

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if autoMigrate {
		if err := Migrate(db); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&entity.Account{},
		&entity.Credential{},
		&entity.RefreshToken{},
		&entity.PasswordResetToken{},
	)
}
