// Package assign picks the checker or lawyer a job is routed to.
//
// Two policies are available. LeastLoaded binds the active user of the role with
// the fewest outstanding jobs and breaks ties by id. RoundRobin walks the active
// users in id order using a persisted cursor so that restarts do not reset it.
package assign

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"brandline/internal/domain"
)

var ErrNoCandidate = errors.New("no eligible user for assignment")

const (
	PolicyLeastLoaded = "least_loaded"
	PolicyRoundRobin  = "round_robin"
)

// Directory is the read side the resolvers need.
type Directory interface {
	ActiveUsers(ctx context.Context, role domain.Role) ([]domain.User, error)
	OutstandingLoad(ctx context.Context, role domain.Role) (map[string]int, error)
}

// Cursor hands out strictly increasing values for a named sequence.
type Cursor interface {
	NextSequence(ctx context.Context, name string) (int64, error)
}

// Resolver chooses a user of the role.
type Resolver interface {
	Resolve(ctx context.Context, role domain.Role) (string, error)
}

// New returns the resolver for the configured policy.
func New(policy string, dir Directory, cur Cursor) (Resolver, error) {
	switch policy {
	case "", PolicyLeastLoaded:
		return LeastLoaded{Dir: dir}, nil
	case PolicyRoundRobin:
		return RoundRobin{Dir: dir, Cursor: cur}, nil
	}
	return nil, fmt.Errorf("unknown assignment policy %q", policy)
}

type LeastLoaded struct {
	Dir Directory
}

func (l LeastLoaded) Resolve(ctx context.Context, role domain.Role) (string, error) {
	users, err := l.Dir.ActiveUsers(ctx, role)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("%w: role %s", ErrNoCandidate, role)
	}
	load, err := l.Dir.OutstandingLoad(ctx, role)
	if err != nil {
		return "", err
	}
	sortByID(users)
	best := users[0].ID
	for _, u := range users[1:] {
		if load[u.ID] < load[best] {
			best = u.ID
		}
	}
	return best, nil
}

type RoundRobin struct {
	Dir    Directory
	Cursor Cursor
}

func (r RoundRobin) Resolve(ctx context.Context, role domain.Role) (string, error) {
	users, err := r.Dir.ActiveUsers(ctx, role)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", fmt.Errorf("%w: role %s", ErrNoCandidate, role)
	}
	sortByID(users)
	n, err := r.Cursor.NextSequence(ctx, "assign."+string(role))
	if err != nil {
		return "", err
	}
	// sequences start at 1
	return users[int((n-1)%int64(len(users)))].ID, nil
}

func sortByID(users []domain.User) {
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
}
