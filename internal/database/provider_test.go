package database

import (
	"context"
	"strings"
	"testing"
)

func TestGetGalleryWriter_NotInitialized(t *testing.T) {
	ResetBackends()
	t.Cleanup(ResetBackends)

	if IsInitialized() {
		t.Fatal("expected backend to be uninitialized")
	}
	if _, err := GetGalleryWriter(context.Background()); err == nil {
		t.Error("expected error for missing gallery backend")
	}
}

func TestGetAuditLog_UnknownBackend(t *testing.T) {
	ResetBackends()
	t.Cleanup(ResetBackends)

	RegisterAuditBackend("postgres", func() AuditLog { return nil })
	RegisterAuditBackend("memory", func() AuditLog { return nil })

	_, err := GetAuditLog(context.Background(), "sqlite")
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
	if !strings.Contains(err.Error(), "memory, postgres") {
		t.Errorf("expected sorted backend names in error, got %q", err.Error())
	}
}
