package users

import (
	"context"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/nickigann03/ai-secretary/internal/models"
	"github.com/nickigann03/ai-secretary/internal/storage"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := storage.OpenDSN("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *sqlx.DB) {
	db := openTestDB(t)
	svc := NewService(db)
	svc.cost = bcrypt.MinCost
	return svc, db
}

func TestRegisterAndLogin(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "  secretary ", "lions-club")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "secretary" {
		t.Fatalf("expected trimmed username, got %q", user.Username)
	}

	var stored string
	if err := db.Get(&stored, `SELECT password_hash FROM users WHERE id = ?`, user.ID); err != nil {
		t.Fatalf("query hash: %v", err)
	}
	if stored == "lions-club" {
		t.Fatalf("password stored in plaintext")
	}

	got, err := svc.Login(ctx, "secretary", "lions-club")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %d, got %d", user.ID, got.ID)
	}
	if _, err := svc.Login(ctx, "secretary", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "lions-club"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "", "secret123"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.Register(ctx, "ann", "123"); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected short password rejection, got %v", err)
	}
	if _, err := svc.Register(ctx, "ann", "secret123"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "ann", "secret456"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestDeleteUser(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "ann", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteUser(ctx, user.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.Get(ctx, user.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found on get, got %v", err)
	}
}
