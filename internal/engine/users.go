package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"ckdt/internal/domain"
	"ckdt/internal/engine/auth"
	"ckdt/internal/events"
	"ckdt/internal/repo"
)

// ErrUnauthorized is returned for unknown accounts and wrong passwords alike.
var ErrUnauthorized = errors.New("invalid email or password")

// Login checks credentials and records the sign-in.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrUnauthorized
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := auth.VerifyPassword(password, u.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return domain.User{}, ErrUnauthorized
		}
		return domain.User{}, err
	}
	if err := e.audit(ctx, events.UserLoggedIn, "user", u.ID, u.ID, nil); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// RecordLogout audits a client-side logout.
func (e Engine) RecordLogout(ctx context.Context, actor auth.Actor) error {
	if actor.ID == "" {
		return ErrUnauthorized
	}
	return e.audit(ctx, events.UserLoggedOut, "user", actor.ID, actor.ID, nil)
}

func (e Engine) audit(ctx context.Context, evtType, kind, id, actorID string, payload events.EventPayload) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, kind, id, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// ActorOf resolves a user id into an actor carrying the current admin flag.
func (e Engine) ActorOf(ctx context.Context, userID string) (auth.Actor, domain.User, error) {
	u, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return auth.Actor{}, domain.User{}, err
	}
	return auth.Actor{ID: u.ID, IsAdmin: u.IsAdmin}, u, nil
}

func (e Engine) CreateUser(ctx context.Context, actor auth.Actor, in UserInput) (domain.User, error) {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return domain.User{}, err
	}
	return e.createUser(ctx, actor.ID, in)
}

func (e Engine) createUser(ctx context.Context, actorID string, in UserInput) (domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := e.check(in); err != nil {
		return domain.User{}, err
	}
	if err := auth.CheckPasswordPolicy(in.Password); err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := e.Repo.GetUserByEmail(ctx, in.Email); err == nil {
		return domain.User{}, fmt.Errorf("%w: email %s already registered", ErrInvalid, in.Email)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:           e.newID(),
		Email:        in.Email,
		Name:         in.Name,
		PasswordHash: hash,
		IsAdmin:      in.IsAdmin,
		CreatedAt:    e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUser(ctx, tx, u); err != nil {
		return domain.User{}, fmt.Errorf("insert user: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.UserCreated, "user", u.ID, actorID, events.EventPayload{"email": u.Email, "is_admin": u.IsAdmin}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor auth.Actor) ([]domain.User, error) {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return nil, err
	}
	return e.Repo.ListUsers(ctx)
}

// RemoveUser deletes an account. Administrators cannot remove themselves and
// the last administrator cannot be removed.
func (e Engine) RemoveUser(ctx context.Context, actor auth.Actor, id string) error {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return err
	}
	if id == actor.ID {
		return fmt.Errorf("%w: cannot remove your own account", ErrInvalid)
	}
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if u.IsAdmin {
		n, err := e.Repo.CountAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return fmt.Errorf("%w: cannot remove the last administrator", ErrInvalid)
		}
	}
	if err := e.Repo.DeleteUser(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.UserRemoved, "user", id, actor.ID, events.EventPayload{"email": u.Email}); err != nil {
		return err
	}
	return tx.Commit()
}

// ChangePassword replaces the caller's own password.
func (e Engine) ChangePassword(ctx context.Context, actor auth.Actor, current, next string) error {
	if actor.ID == "" {
		return ErrUnauthorized
	}
	u, err := e.Repo.GetUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	if err := auth.VerifyPassword(current, u.PasswordHash); err != nil {
		if errors.Is(err, auth.ErrMismatch) {
			return ErrUnauthorized
		}
		return err
	}
	if err := auth.CheckPasswordPolicy(next); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdatePassword(ctx, tx, u.ID, hash); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.PasswordChanged, "user", u.ID, u.ID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// EnsureAdmin creates the bootstrap administrator unless one already exists.
// It reports whether an account was created.
func (e Engine) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	n, err := e.Repo.CountAdmins(ctx, nil)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if strings.TrimSpace(email) == "" || password == "" {
		return false, errors.New("no administrator exists and no bootstrap credentials are configured")
	}
	if name == "" {
		name = "Administrador"
	}
	if _, err := e.createUser(ctx, auth.System.ID, UserInput{Name: name, Email: email, Password: password, IsAdmin: true}); err != nil {
		return false, fmt.Errorf("bootstrap admin: %w", err)
	}
	return true, nil
}

// APIKeyPrefix starts every generated key.
const APIKeyPrefix = "ckdt_"

// CreateAPIKey issues a key for the calling administrator. The plaintext is
// returned once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actor auth.Actor, name string) (string, domain.APIKey, error) {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return "", domain.APIKey{}, err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", domain.APIKey{}, fmt.Errorf("generate key: %w", err)
	}
	plain := APIKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        e.newID(),
		UserID:    actor.ID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: e.stamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.APIKey{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := e.Events.Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actor.ID, events.EventPayload{"name": key.Name}); err != nil {
		return "", domain.APIKey{}, err
	}
	if err := tx.Commit(); err != nil {
		return "", domain.APIKey{}, err
	}
	return plain, key, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor auth.Actor) ([]domain.APIKey, error) {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, actor.ID)
}

// RevokeAPIKey deletes one of the caller's keys.
func (e Engine) RevokeAPIKey(ctx context.Context, actor auth.Actor, id string) error {
	if err := auth.Require(actor, auth.PermUsersManage); err != nil {
		return err
	}
	keys, err := e.Repo.ListAPIKeys(ctx, actor.ID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k.ID == id {
			if err := e.Repo.DeleteAPIKey(ctx, id); err != nil {
				return err
			}
			return e.audit(ctx, events.APIKeyRevoked, "api_key", id, actor.ID, nil)
		}
	}
	return repo.ErrNotFound
}

// ResolveAPIKey returns the actor owning a plaintext key.
func (e Engine) ResolveAPIKey(ctx context.Context, plain string) (auth.Actor, domain.User, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plain))
	if err != nil {
		return auth.Actor{}, domain.User{}, err
	}
	return e.ActorOf(ctx, key.UserID)
}

// EventQuery pages through the audit log, newest first.
type EventQuery struct {
	repo.EventFilter
	Limit int
}

func (e Engine) ListEvents(ctx context.Context, actor auth.Actor, q EventQuery) ([]domain.Event, error) {
	if err := auth.Require(actor, auth.PermEventsRead); err != nil {
		return nil, err
	}
	if q.Limit <= 0 || q.Limit > 500 {
		q.Limit = 50
	}
	return e.Repo.LatestEvents(ctx, q.Limit, q.EventFilter)
}
