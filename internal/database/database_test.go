package database

import (
	"errors"
	"path/filepath"
	"testing"

	"blogapi/internal/config"
	"blogapi/internal/model"

	"gorm.io/gorm"
)

func TestOpenSQLiteAndMigrate(t *testing.T) {
	db, err := Open(config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "data", "blog.db"),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []any{&model.User{}, &model.Post{}, &model.PostView{}, &model.Comment{}, &model.Image{}} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("missing table for %T", table)
		}
	}

	first := model.User{Name: "a", Username: "a", Email: "a@example.com", PasswordHash: "x"}
	if err := db.Create(&first).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	dup := model.User{Name: "b", Username: "b", Email: "a@example.com", PasswordHash: "x"}
	if err := db.Create(&dup).Error; !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("expected ErrDuplicatedKey, got %v", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
