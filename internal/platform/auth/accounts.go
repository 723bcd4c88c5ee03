package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pdclinic/pdclinic/internal/platform/store"
)

var (
	ErrEmailTaken         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// User is a login account. Accounts live in the global scope and are shared
// by every center.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Public is the account as returned to clients.
type Public struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role"`
}

func (u *User) Public() Public {
	return Public{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
}

// Accounts registers and authenticates users.
type Accounts struct {
	users *store.Collection[User]
	mu    sync.Mutex
}

func NewAccounts(s store.DocumentStore) *Accounts {
	return &Accounts{users: store.NewCollection[User](s, store.CollectionUsers)}
}

func (a *Accounts) Register(ctx context.Context, email, password, name, role string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}
	if role == "" {
		role = RoleDoctor
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("invalid role: %s", role)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.findByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u := &User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.Put(ctx, store.GlobalScope, u.ID, u); err != nil {
		return nil, fmt.Errorf("saving user: %w", err)
	}
	return u, nil
}

// Authenticate returns the user for valid credentials. Legacy hashes are
// upgraded to bcrypt on success.
func (a *Accounts) Authenticate(ctx context.Context, email, password string) (*User, error) {
	u, err := a.findByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if IsLegacyHash(u.PasswordHash) {
		if hash, err := HashPassword(password); err == nil {
			u.PasswordHash = hash
			if err := a.users.Put(ctx, store.GlobalScope, u.ID, u); err != nil {
				return nil, fmt.Errorf("upgrading password hash: %w", err)
			}
		}
	}
	return u, nil
}

func (a *Accounts) Get(ctx context.Context, id string) (*User, error) {
	return a.users.Get(ctx, store.GlobalScope, id)
}

// Import stores u as-is, keeping its id and hash. Existing emails are skipped.
func (a *Accounts) Import(ctx context.Context, u *User) (bool, error) {
	u.Email = normalizeEmail(u.Email)
	if u.ID == "" || u.Email == "" {
		return false, fmt.Errorf("user id and email are required")
	}
	if !ValidRole(u.Role) {
		u.Role = RoleDoctor
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.findByEmail(ctx, u.Email); err == nil {
		return false, nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return true, a.users.Put(ctx, store.GlobalScope, u.ID, u)
}

func (a *Accounts) findByEmail(ctx context.Context, email string) (*User, error) {
	users, err := a.users.List(ctx, store.GlobalScope)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	for _, u := range users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
