package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleAuthorizer(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		required string
		actor    Actor
		want     bool
	}{
		{"anonymous rejected", "", Actor{}, false},
		{"any identified actor", "", Actor{ID: "u1"}, true},
		{"missing role", "creator", Actor{ID: "u1", Roles: []string{"viewer"}}, false},
		{"has role", "creator", Actor{ID: "u1", Roles: []string{"viewer", "creator"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RoleAuthorizer{Required: tt.required}.IsAuthorized(ctx, tt.actor))
		})
	}

	deny := AuthorizerFunc(func(context.Context, Actor) bool { return false })
	assert.False(t, deny.IsAuthorized(ctx, Actor{ID: "u1"}))
}
