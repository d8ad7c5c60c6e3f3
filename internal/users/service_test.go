package users_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/attestia/attestia/internal/users"
)

type stubUserRepo struct {
	mu         sync.RWMutex
	byID       map[uuid.UUID]*users.User
	byEmail    map[string]uuid.UUID
	oauthLinks map[string]uuid.UUID // "provider:providerID" → userID
	tokens     map[string]*tokenRecord
}

type tokenRecord struct {
	userID    uuid.UUID
	tokenType string
	expiresAt time.Time
	usedAt    *time.Time
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{
		byID:       make(map[uuid.UUID]*users.User),
		byEmail:    make(map[string]uuid.UUID),
		oauthLinks: make(map[string]uuid.UUID),
		tokens:     make(map[string]*tokenRecord),
	}
}

func (r *stubUserRepo) Create(_ context.Context, u *users.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byEmail[u.Email]; exists {
		return users.ErrDuplicateEmail
	}
	u.ID = uuid.New()
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *stubUserRepo) GetByID(_ context.Context, id uuid.UUID) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *stubUserRepo) GetByEmail(_ context.Context, email string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *stubUserRepo) GetByOAuth(_ context.Context, provider, providerID string) (*users.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.oauthLinks[provider+":"+providerID]
	if !ok {
		return nil, users.ErrNotFound
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *stubUserRepo) LinkOAuth(_ context.Context, userID uuid.UUID, provider, providerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oauthLinks[provider+":"+providerID] = userID
	return nil
}

func (r *stubUserRepo) SetEmailVerified(_ context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.EmailVerified = true
	}
	return nil
}

func (r *stubUserRepo) SetPasswordHash(_ context.Context, userID uuid.UUID, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[userID]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (r *stubUserRepo) SetRole(_ context.Context, userID uuid.UUID, role users.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[userID]
	if !ok {
		return users.ErrNotFound
	}
	u.Role = role
	return nil
}

func (r *stubUserRepo) CreateVerificationToken(_ context.Context, userID uuid.UUID, token string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = &tokenRecord{userID: userID, tokenType: "email_verification", expiresAt: expires}
	return nil
}

func (r *stubUserRepo) CreatePasswordResetToken(_ context.Context, userID uuid.UUID, token string, expires time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = &tokenRecord{userID: userID, tokenType: "password_reset", expiresAt: expires}
	return nil
}

func (r *stubUserRepo) UseVerificationToken(ctx context.Context, token string) (*users.User, error) {
	return r.consume(ctx, token, "email_verification", true)
}

func (r *stubUserRepo) UsePasswordResetToken(ctx context.Context, token string) (*users.User, error) {
	return r.consume(ctx, token, "password_reset", false)
}

func (r *stubUserRepo) consume(ctx context.Context, token, tokenType string, markVerified bool) (*users.User, error) {
	r.mu.Lock()
	rec, ok := r.tokens[token]
	if !ok || rec.tokenType != tokenType {
		r.mu.Unlock()
		return nil, users.ErrNotFound
	}
	if rec.usedAt != nil {
		r.mu.Unlock()
		return nil, errors.New("token already used")
	}
	if time.Now().After(rec.expiresAt) {
		r.mu.Unlock()
		return nil, errors.New("token expired")
	}
	now := time.Now()
	rec.usedAt = &now
	if markVerified {
		if u, ok := r.byID[rec.userID]; ok {
			u.EmailVerified = true
		}
	}
	userID := rec.userID
	r.mu.Unlock()
	return r.GetByID(ctx, userID)
}

type noopMailer struct{}

func (n *noopMailer) Send(_ context.Context, _, _, _ string) error { return nil }

func newTestUserService(repo *stubUserRepo) *users.UserService {
	return users.NewUserService(repo, &noopMailer{}, "http://localhost:8080", zap.NewNop())
}

func TestSignup_success(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	u, token, err := svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email mismatch: %s", u.Email)
	}
	if u.Role != users.RoleMember {
		t.Errorf("expected member role, got %s", u.Role)
	}
	if u.EmailVerified {
		t.Error("email should not be verified immediately")
	}
	if token == "" {
		t.Error("expected a verification token")
	}
}

func TestSignup_duplicateEmail(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	_, _, err := svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")
	if err != nil {
		t.Fatalf("first signup: %v", err)
	}

	_, _, err = svc.Signup(context.Background(), "alice@example.com", "password456", "Alice2")
	if !errors.Is(err, users.ErrDuplicateEmail) {
		t.Errorf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestSignup_shortPassword(t *testing.T) {
	svc := newTestUserService(newStubUserRepo())
	_, _, err := svc.Signup(context.Background(), "bob@example.com", "short", "Bob")
	if err == nil {
		t.Error("expected error for short password")
	}
}

func TestSignup_defaultsDisplayName(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	u, _, err := svc.Signup(context.Background(), "carol@example.com", "password123", "")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if u.DisplayName != "carol" {
		t.Errorf("display name = %q, want local part of email", u.DisplayName)
	}
}

func TestLogin_success(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")

	u, err := svc.Login(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.Email != "alice@example.com" {
		t.Errorf("email mismatch: %s", u.Email)
	}
}

func TestLogin_wrongPassword(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)
	svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")

	_, err := svc.Login(context.Background(), "alice@example.com", "wrongpass")
	if err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestLogin_unknownUser(t *testing.T) {
	svc := newTestUserService(newStubUserRepo())
	_, err := svc.Login(context.Background(), "nobody@example.com", "password123")
	if err == nil {
		t.Error("expected error for unknown user")
	}
}

func TestVerifyEmail_success(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	_, token, _ := svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")

	u, err := svc.VerifyEmail(context.Background(), token)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !u.EmailVerified {
		t.Error("expected email_verified = true")
	}
}

func TestVerifyEmail_invalidToken(t *testing.T) {
	svc := newTestUserService(newStubUserRepo())
	_, err := svc.VerifyEmail(context.Background(), "bad-token")
	if err == nil {
		t.Error("expected error for invalid token")
	}
}

func TestPromote(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	admin, _, _ := svc.Signup(context.Background(), "admin@example.com", "password123", "Admin")
	repo.SetRole(context.Background(), admin.ID, users.RoleAdmin)
	member, _, _ := svc.Signup(context.Background(), "bob@example.com", "password123", "Bob")

	u, err := svc.Promote(context.Background(), admin.ID, member.ID, users.RoleOperator)
	if err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if u.Role != users.RoleOperator {
		t.Errorf("role = %s, want operator", u.Role)
	}

	// Non-admins cannot change roles.
	if _, err := svc.Promote(context.Background(), member.ID, admin.ID, users.RoleMember); err == nil {
		t.Error("expected error when operator changes roles")
	}

	// Admins cannot demote themselves.
	if _, err := svc.Promote(context.Background(), admin.ID, admin.ID, users.RoleMember); err == nil {
		t.Error("expected error when admin demotes self")
	}

	// Unknown target.
	if _, err := svc.Promote(context.Background(), admin.ID, uuid.New(), users.RoleOperator); !errors.Is(err, users.ErrNotFound) {
		t.Errorf("unknown target: got %v, want ErrNotFound", err)
	}
}

func TestGetOrCreateFromOAuth_createsNewUser(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	u, created, err := svc.GetOrCreateFromOAuth(context.Background(), "github", "12345", "bob@github.com", "Bob")
	if err != nil {
		t.Fatalf("GetOrCreateFromOAuth: %v", err)
	}
	if !created {
		t.Error("expected created=true for new OAuth user")
	}
	if !u.EmailVerified {
		t.Error("OAuth users should have email verified")
	}
	if u.Role != users.RoleMember {
		t.Errorf("role = %s, want member", u.Role)
	}
}

func TestGetOrCreateFromOAuth_returnsExistingUser(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	svc.GetOrCreateFromOAuth(context.Background(), "github", "12345", "bob@github.com", "Bob")
	u2, created, err := svc.GetOrCreateFromOAuth(context.Background(), "github", "12345", "bob@github.com", "Bob")
	if err != nil {
		t.Fatalf("second GetOrCreateFromOAuth: %v", err)
	}
	if created {
		t.Error("expected created=false for existing OAuth user")
	}
	if u2.Email != "bob@github.com" {
		t.Errorf("email mismatch: %s", u2.Email)
	}
}

func TestGetOrCreateFromOAuth_linksByEmail(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	orig, _, _ := svc.Signup(context.Background(), "alice@example.com", "password123", "Alice")

	u, created, err := svc.GetOrCreateFromOAuth(context.Background(), "google", "g-99", "alice@example.com", "Alice G")
	if err != nil {
		t.Fatalf("GetOrCreateFromOAuth: %v", err)
	}
	if created {
		t.Error("expected link to existing account, not a new user")
	}
	if u.ID != orig.ID {
		t.Errorf("linked wrong account: %s vs %s", u.ID, orig.ID)
	}
	if !u.EmailVerified {
		t.Error("OAuth link should mark email verified")
	}
}

func TestResetPassword(t *testing.T) {
	repo := newStubUserRepo()
	svc := newTestUserService(repo)

	u, _, _ := svc.Signup(context.Background(), "alice@example.com", "oldpassword", "Alice")
	repo.CreatePasswordResetToken(context.Background(), u.ID, "reset-tok", time.Now().Add(time.Hour))

	if err := svc.ResetPassword(context.Background(), "reset-tok", "newpassword1"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice@example.com", "newpassword1"); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := svc.Login(context.Background(), "alice@example.com", "oldpassword"); err == nil {
		t.Error("old password should no longer work")
	}

	// Token is single-use.
	if err := svc.ResetPassword(context.Background(), "reset-tok", "anotherpass1"); err == nil {
		t.Error("expected error reusing reset token")
	}
}

func TestForgotPassword_silentForUnknownEmail(t *testing.T) {
	svc := newTestUserService(newStubUserRepo())
	if err := svc.ForgotPassword(context.Background(), "nobody@example.com"); err != nil {
		t.Errorf("ForgotPassword must not reveal account existence: %v", err)
	}
}
