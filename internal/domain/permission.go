package domain

import (
	"errors"
	"fmt"
)

// Role distinguishes the two credential flavours. A power user token is
// bound to no pipeline and may administer pipelines; a regular user token
// is bound to exactly one pipeline and may only act on it.
type Role string

const (
	RolePowerUser   Role = "power_user"
	RoleRegularUser Role = "regular_user"
)

// Authorization failure kinds surfaced by AuthorizeFor.
var (
	ErrRoleNotAllowed   = errors.New("operation is not valid for this role")
	ErrNoBoundPipeline  = errors.New("no pipeline associated with these credentials")
	ErrPipelineMismatch = errors.New("token-request pipeline mismatch")
)

// Permission is the derived, non-persisted authority attached to a
// request after token validation. The two variants carry different
// invariants, so construction goes through NewPowerUserPermission and
// NewRegularUserPermission rather than a bare struct literal.
type Permission struct {
	role        Role
	requestorID int64
	pipeline    *Pipeline
}

// NewPowerUserPermission builds the administrator variant. Power users
// are never associated with a pipeline.
func NewPowerUserPermission(requestorID int64) Permission {
	return Permission{role: RolePowerUser, requestorID: requestorID}
}

// NewRegularUserPermission builds the pipeline-scoped variant.
func NewRegularUserPermission(requestorID int64, pipeline Pipeline) (Permission, error) {
	if pipeline.Name == "" {
		return Permission{}, errors.New("regular user permission requires a named pipeline")
	}
	return Permission{
		role:        RoleRegularUser,
		requestorID: requestorID,
		pipeline:    &pipeline,
	}, nil
}

// Role returns the credential role.
func (p Permission) Role() Role { return p.role }

// RequestorID is the internal id of the token row behind the credentials.
func (p Permission) RequestorID() int64 { return p.requestorID }

// Pipeline returns the bound pipeline, or nil for power users.
func (p Permission) Pipeline() *Pipeline { return p.pipeline }

// AuthorizeFor checks that these credentials may mutate tasks of the
// given pipeline. Only a regular user bound to the same pipeline name
// passes.
func (p Permission) AuthorizeFor(pipeline Pipeline) error {
	if p.role != RoleRegularUser {
		return fmt.Errorf("%w: %s", ErrRoleNotAllowed, p.role)
	}
	if p.pipeline == nil {
		return ErrNoBoundPipeline
	}
	if p.pipeline.Name != pipeline.Name {
		return fmt.Errorf("%w: '%s' and '%s'", ErrPipelineMismatch, p.pipeline.Name, pipeline.Name)
	}
	return nil
}
