package service

import "context"

// Actor is the caller on whose behalf a pipeline runs.
type Actor struct {
	ID    string
	Roles []string
}

func (a Actor) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Authorizer gates pipeline starts.
type Authorizer interface {
	IsAuthorized(ctx context.Context, actor Actor) bool
}

// RoleAuthorizer admits any identified actor, and when Required is set, only
// actors carrying that role.
type RoleAuthorizer struct {
	Required string
}

func (a RoleAuthorizer) IsAuthorized(_ context.Context, actor Actor) bool {
	if actor.ID == "" {
		return false
	}
	return a.Required == "" || actor.HasRole(a.Required)
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor Actor) bool

func (f AuthorizerFunc) IsAuthorized(ctx context.Context, actor Actor) bool { return f(ctx, actor) }
