package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func namedPipeline(name string) Pipeline {
	uri := "https://example.com/pipeline"
	version := "1.0"
	return Pipeline{Name: name, URI: &uri, Version: &version}
}

func TestNewRegularUserPermission_RequiresNamedPipeline(t *testing.T) {
	_, err := NewRegularUserPermission(1, Pipeline{})
	assert.Error(t, err)
}

func TestPowerUserPermission_CannotMutateTasks(t *testing.T) {
	p := NewPowerUserPermission(1)

	err := p.AuthorizeFor(namedPipeline("ptest"))
	assert.ErrorIs(t, err, ErrRoleNotAllowed)
}

func TestRegularUserPermission_MatchingPipeline(t *testing.T) {
	p, err := NewRegularUserPermission(2, namedPipeline("ptest"))
	require.NoError(t, err)

	assert.NoError(t, p.AuthorizeFor(namedPipeline("ptest")))
}

func TestRegularUserPermission_PipelineMismatch(t *testing.T) {
	p, err := NewRegularUserPermission(2, namedPipeline("ptest"))
	require.NoError(t, err)

	err = p.AuthorizeFor(namedPipeline("other"))
	assert.ErrorIs(t, err, ErrPipelineMismatch)
}

func TestPermission_Accessors(t *testing.T) {
	power := NewPowerUserPermission(7)
	assert.Equal(t, RolePowerUser, power.Role())
	assert.EqualValues(t, 7, power.RequestorID())
	assert.Nil(t, power.Pipeline())

	regular, err := NewRegularUserPermission(8, namedPipeline("ptest"))
	require.NoError(t, err)
	assert.Equal(t, RoleRegularUser, regular.Role())
	assert.EqualValues(t, 8, regular.RequestorID())
	require.NotNil(t, regular.Pipeline())
	assert.Equal(t, "ptest", regular.Pipeline().Name)
}
