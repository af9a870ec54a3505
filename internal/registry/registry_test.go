package registry

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/facade"
)

type generation struct{ v atomic.Uint64 }

func (g *generation) Generation() uint64 { return g.v.Load() }

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var (
	parentID = capability.ModuleIdentity{Group: "g", Name: "parent", Version: "1.0.0"}
	childID  = capability.ModuleIdentity{Group: "g", Name: "child", Version: "1.0.0"}
)

func fac(path string, id capability.ModuleIdentity) *facade.ModuleFacade {
	return facade.New(path, &workspacev1alpha1.Module{Spec: workspacev1alpha1.ModuleSpec{
		Identity: workspacev1alpha1.ModuleIdentity{Group: id.Group, Name: id.Name, Version: id.Version},
	}}, nil)
}

func provides(id capability.ModuleIdentity) capability.Set {
	return capability.NewSet(capability.Identity(id), capability.ParentIdentity(id))
}

func requireParent(id capability.ModuleIdentity, version string) capability.Requirement {
	return capability.Requirement{
		Target:   capability.ParentIdentity(id).VersionlessKey(),
		Version:  version,
		Resolved: true,
	}
}

func populate(t *testing.T, m *MutableProjectRegistry) {
	t.Helper()
	require.NoError(t, m.SetFacade("parent", fac("parent", parentID)))
	_, err := m.SetCapabilities("parent", provides(parentID))
	require.NoError(t, err)

	require.NoError(t, m.SetFacade("child", fac("child", childID)))
	_, err = m.SetCapabilities("child", provides(childID))
	require.NoError(t, err)
	_, err = m.SetRequirements("child", []capability.Requirement{requireParent(parentID, "1.0.0")})
	require.NoError(t, err)
}

func TestSetCapabilitiesReturnsPrevious(t *testing.T) {
	m := NewMutable(New(), 0, nil)
	old, err := m.SetCapabilities("parent", provides(parentID))
	require.NoError(t, err)
	assert.Equal(t, 0, old.Len())

	v2 := parentID
	v2.Version = "2.0.0"
	old, err = m.SetCapabilities("parent", provides(v2))
	require.NoError(t, err)
	assert.True(t, old.Equal(provides(parentID)))
	assert.Equal(t, []string{"parent"}, m.Freeze().Providers(capability.Identity(v2).VersionlessKey()))
}

func TestDependentsIndexIsTranspose(t *testing.T) {
	m := NewMutable(New(), 0, nil)
	populate(t, m)

	parentCap := capability.ParentIdentity(parentID)
	assert.Equal(t, []string{"child"}, m.Dependents(parentCap, true))
	assert.Equal(t, []string{"child"}, m.Dependents(parentCap, false))

	bumped := parentID
	bumped.Version = "2.0.0"
	assert.Equal(t, []string{"child"}, m.Dependents(capability.ParentIdentity(bumped), true))
	assert.Empty(t, m.Dependents(capability.ParentIdentity(bumped), false), "1.0.0 constraint rejects 2.0.0")
	assert.Empty(t, m.Dependents(capability.Identity(parentID), true), "kind is part of the key")

	old, err := m.SetRequirements("child", nil)
	require.NoError(t, err)
	assert.Len(t, old, 1)
	assert.Empty(t, m.Dependents(parentCap, true))

	snap := m.Freeze()
	assert.Empty(t, snap.Dependents(parentCap, true))
	assert.Empty(t, snap.dependents, "empty index entries are dropped")
}

func TestCopyOnWriteLeavesBaseUntouched(t *testing.T) {
	first := NewMutable(New(), 0, nil)
	populate(t, first)
	base := first.Freeze()

	m := NewMutable(base, 1, nil)
	require.NoError(t, m.RemoveProject("parent"))
	_, err := m.SetRequirements("child", nil)
	require.NoError(t, err)

	assert.Nil(t, m.Facade("parent"))
	assert.Empty(t, m.Dependents(capability.ParentIdentity(parentID), true))
	assert.Equal(t, []string{"child", "parent"}, m.Touched())

	assert.NotNil(t, base.Facade("parent"))
	assert.Equal(t, []string{"child"}, base.Dependents(capability.ParentIdentity(parentID), true))
	assert.Equal(t, []string{"parent"}, base.Providers(capability.Identity(parentID).VersionlessKey()))

	next := m.Freeze()
	assert.Nil(t, next.Facade("parent"))
	assert.Equal(t, 1, next.Len())
	assert.Equal(t, []string{"child"}, next.Descriptors())
	assert.Empty(t, next.Providers(capability.Identity(parentID).VersionlessKey()))
}

func TestStaleViewRejectsMutation(t *testing.T) {
	gen := &generation{}
	a := NewMutable(New(), 0, gen)
	b := NewMutable(New(), 0, gen)

	require.NoError(t, a.SetFacade("x", nil))
	gen.v.Add(1)

	assert.True(t, b.IsStale())
	assert.ErrorIs(t, b.SetFacade("x", nil), ErrStale)
	_, err := b.SetCapabilities("x", nil)
	assert.ErrorIs(t, err, ErrStale)
	_, err = b.SetRequirements("x", nil)
	assert.ErrorIs(t, err, ErrStale)
	assert.ErrorIs(t, b.RemoveProject("x"), ErrStale)
}

func TestCloseIsIdempotent(t *testing.T) {
	m := NewMutable(nil, 0, nil)
	var order []int
	boom := errors.New("boom")
	m.AddCloser(closerFunc(func() error { order = append(order, 1); return nil }))
	m.AddCloser(closerFunc(func() error { order = append(order, 2); return boom }))

	assert.ErrorIs(t, m.Close(), boom)
	assert.NoError(t, m.Close())
	assert.Equal(t, []int{2, 1}, order)
	assert.ErrorIs(t, m.SetFacade("x", nil), ErrClosed)
}

func TestEntriesRoundTrip(t *testing.T) {
	m := NewMutable(New(), 0, nil)
	populate(t, m)
	// A descriptor that failed to parse keeps only its parent requirement.
	_, err := m.SetRequirements("broken", []capability.Requirement{requireParent(parentID, "*")})
	require.NoError(t, err)
	snap := m.Freeze()

	entries := snap.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "broken", entries[0].Descriptor)
	assert.Nil(t, entries[0].Facade)

	rebuilt := Build(entries)
	assert.Equal(t, snap.Descriptors(), rebuilt.Descriptors())
	assert.Equal(t, []string{"broken", "child"}, rebuilt.Dependents(capability.ParentIdentity(parentID), true))
	assert.Equal(t, snap.Entries(), rebuilt.Entries())

	path, ok := rebuilt.WorkspaceModule(childID)
	assert.True(t, ok)
	assert.Equal(t, "child", path)

	mods := rebuilt.WorkspaceModules(capability.ParentIdentity(parentID).VersionlessKey())
	require.Len(t, mods, 1)
	assert.Equal(t, parentID, mods[0].Identity)
}
