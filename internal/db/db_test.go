package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arencloud/s3keeper/internal/config"
	"github.com/arencloud/s3keeper/internal/logging"
	"github.com/arencloud/s3keeper/internal/models"
)

func TestOpenSQLiteMigrates(t *testing.T) {
	cfg := &config.Config{DBDriver: "sqlite", DBPath: filepath.Join(t.TempDir(), "nested", "t.db")}
	gdb, err := Open(cfg, logging.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = Close(gdb) })
	if err := Ping(context.Background(), gdb); err != nil {
		t.Fatalf("ping: %v", err)
	}
	for _, m := range []any{&models.Credential{}, &models.AuditEntry{}} {
		if !gdb.Migrator().HasTable(m) {
			t.Fatalf("table for %T missing", m)
		}
	}
	if !gdb.Migrator().HasIndex(&models.Credential{}, "idx_credential_user_alias") {
		t.Fatalf("alias index missing")
	}
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	if _, err := Open(&config.Config{DBDriver: "postgres"}, logging.Nop()); err == nil {
		t.Fatalf("expected error without DSN")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(&config.Config{DBDriver: "mysql"}, logging.Nop()); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
