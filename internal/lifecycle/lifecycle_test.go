package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
)

func TestLookup(t *testing.T) {
	r := NewRegistry()
	jar := Mapping{Name: "java", Steps: []string{"compile", "package"}}
	r.Register("jar", jar)
	r.RegisterID(Mapping{Name: "docs", Steps: []string{"render"}})

	assert.Equal(t, jar, r.Lookup("jar", ""))
	assert.Equal(t, "docs", r.Lookup("jar", "docs").ID())
	assert.Equal(t, "java", r.Lookup("pom", "java").ID())
	assert.Equal(t, Noop{}, r.Lookup("pom", ""))
	assert.Equal(t, Noop{}, r.Lookup("jar", NoopID))
	assert.Equal(t, Missing{Requested: "nope"}, r.Lookup("jar", "nope"))
}

func TestFor(t *testing.T) {
	r := NewRegistry()
	r.Register(workspacev1alpha1.DefaultPackaging, Mapping{Name: "java", Steps: []string{"compile"}})

	module := &workspacev1alpha1.Module{}
	s, participants, err := r.For(module)
	require.NoError(t, err)
	assert.Equal(t, "java", s.ID())
	assert.Equal(t, []string{"compile"}, participants)

	module.Spec.Lifecycle = "unknown"
	s, participants, err = r.For(module)
	assert.ErrorIs(t, err, ErrMissingStrategy)
	assert.Equal(t, "unknown", s.ID())
	assert.Nil(t, participants)
}
