package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithSQLite(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.Mode != BillingModeAdvisory {
		t.Fatalf("expected advisory billing by default, got %q", cfg.Billing.Mode)
	}
	if cfg.Recovery.Interval != time.Hour {
		t.Fatalf("expected hourly recovery sweep, got %s", cfg.Recovery.Interval)
	}
	if cfg.Engine.MaxQuantity != 100 {
		t.Fatalf("expected max quantity 100, got %d", cfg.Engine.MaxQuantity)
	}
	cost, err := cfg.Billing.MessageCost()
	if err != nil {
		t.Fatalf("MessageCost: %v", err)
	}
	if cost.String() != "1" {
		t.Fatalf("expected default cost 1, got %s", cost)
	}
	if cfg.Redis.Enabled() {
		t.Fatal("redis should be disabled without REDIS_ADDR")
	}
}

func TestLoadRejectsUnknownBillingMode(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("BILLING_MODE", "lenient")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "BILLING_MODE") {
		t.Fatalf("expected billing mode error, got %v", err)
	}
}

func TestLoadRequiresPostgresURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestValidateRejectsInvertedRecoveryWindow(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "sqlite")
	t.Setenv("RECOVERY_MIN_IDLE", "2h")
	t.Setenv("RECOVERY_MAX_IDLE", "1h")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for inverted recovery window")
	}
}

func TestStrictModeIsNormalised(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "SQLite")
	t.Setenv("BILLING_MODE", " Strict ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Billing.Mode != BillingModeStrict {
		t.Fatalf("expected strict, got %q", cfg.Billing.Mode)
	}
	if cfg.Database.Driver != DriverSQLite {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
}
