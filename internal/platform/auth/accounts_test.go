package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/pdclinic/pdclinic/internal/platform/store"
)

func TestAccounts_RegisterAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(store.NewMemoryStore())

	u, err := a.Register(ctx, " Doc@Clinic.cl ", "password1", "Dra. Soto", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.Role != RoleDoctor {
		t.Errorf("expected default role %q, got %q", RoleDoctor, u.Role)
	}
	if u.Email != "doc@clinic.cl" {
		t.Errorf("expected normalised email, got %q", u.Email)
	}

	got, err := a.Authenticate(ctx, "DOC@clinic.cl", "password1")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if got.ID != u.ID {
		t.Errorf("expected %s, got %s", u.ID, got.ID)
	}

	if _, err := a.Authenticate(ctx, "doc@clinic.cl", "nope"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Authenticate(ctx, "ghost@clinic.cl", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestAccounts_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(store.NewMemoryStore())

	if _, err := a.Register(ctx, "", "pw", "", RoleNurse); err == nil {
		t.Error("expected error for missing email")
	}
	if _, err := a.Register(ctx, "a@b.cl", "", "", RoleNurse); err == nil {
		t.Error("expected error for missing password")
	}
	if _, err := a.Register(ctx, "a@b.cl", "pw", "", "Chief"); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := a.Register(ctx, "a@b.cl", "pw", "", RoleNurse); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := a.Register(ctx, "A@B.cl", "pw2", "", RoleNurse); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestAccounts_LegacyHashUpgrade(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	a := NewAccounts(s)

	created, err := a.Import(ctx, &User{
		ID:           "legacy-1",
		Email:        "old@clinic.cl",
		Role:         RoleVascular,
		PasswordHash: legacyHash("vieja", "0011223344556677"),
	})
	if err != nil || !created {
		t.Fatalf("import: created=%v err=%v", created, err)
	}

	if _, err := a.Authenticate(ctx, "old@clinic.cl", "vieja"); err != nil {
		t.Fatalf("authenticate legacy: %v", err)
	}
	u, _ := a.Get(ctx, "legacy-1")
	if IsLegacyHash(u.PasswordHash) {
		t.Error("expected hash to be upgraded to bcrypt after login")
	}
	if _, err := a.Authenticate(ctx, "old@clinic.cl", "vieja"); err != nil {
		t.Errorf("upgraded hash should still verify: %v", err)
	}
}

func TestAccounts_ImportSkipsExisting(t *testing.T) {
	ctx := context.Background()
	a := NewAccounts(store.NewMemoryStore())
	a.Register(ctx, "x@clinic.cl", "pw", "", RoleNurse)

	created, err := a.Import(ctx, &User{ID: "other", Email: "x@clinic.cl", Role: "bogus"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if created {
		t.Error("expected duplicate email to be skipped")
	}
	if _, err := a.Import(ctx, &User{Email: "y@clinic.cl"}); err == nil {
		t.Error("expected error for user without id")
	}
}
