package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"brandline/internal/domain"
	"brandline/internal/engine/guard"
	"brandline/internal/repo"
)

// CreateUser registers staff. Only admins may add users.
func (e Engine) CreateUser(ctx context.Context, actor domain.Actor, u domain.User) (domain.User, error) {
	if err := validateActor(actor); err != nil {
		return domain.User{}, err
	}
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return domain.User{}, err
	}
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return domain.User{}, missing("id")
	}
	if _, err := domain.ParseRole(string(u.Role)); err != nil {
		return domain.User{}, ValidationError{Field: "role", Reason: err.Error()}
	}
	if _, err := e.Repo.GetUser(ctx, u.ID); err == nil {
		return domain.User{}, ValidationError{Field: "id", Reason: fmt.Sprintf("user %s already exists", u.ID)}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, storeErr("load user", err)
	}
	u.CreatedAt = e.now()
	if err := e.Repo.InsertUser(ctx, u); err != nil {
		return domain.User{}, storeErr("insert user", err)
	}
	e.log().Info("user created", "user", u.ID, "role", u.Role, "actor", actor.ID)
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor domain.Actor, role domain.Role) ([]domain.User, error) {
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return nil, err
	}
	users, err := e.Repo.ListUsers(ctx, role)
	return users, storeErr("list users", err)
}

// SetUserActive toggles assignment eligibility. Existing bindings are kept.
func (e Engine) SetUserActive(ctx context.Context, actor domain.Actor, id string, active bool) error {
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return err
	}
	err := e.Repo.SetUserActive(ctx, id, active)
	if errors.Is(err, repo.ErrNotFound) {
		return fmt.Errorf("user %s: %w", id, err)
	}
	return storeErr("update user", err)
}

// IssueAPIKey creates a key for an existing user and returns the plaintext once.
func (e Engine) IssueAPIKey(ctx context.Context, actor domain.Actor, userID, name string) (string, domain.APIKey, error) {
	if err := guard.RequireRole(actor, domain.RoleAdmin); err != nil {
		return "", domain.APIKey{}, err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", domain.APIKey{}, fmt.Errorf("user %s: %w", userID, err)
		}
		return "", domain.APIKey{}, storeErr("load user", err)
	}
	plain, key, err := e.Repo.IssueAPIKey(ctx, userID, name)
	if err != nil {
		return "", domain.APIKey{}, storeErr("issue api key", err)
	}
	return plain, key, nil
}
