package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
)

type staticView map[capability.VersionlessKey][]WorkspaceModule

func (v staticView) WorkspaceModules(key capability.VersionlessKey) []WorkspaceModule {
	return v[key]
}

type countingRepo struct {
	DirRepository
	calls int
}

func (r *countingRepo) Lookup(ctx context.Context, group, name, constraint string) (Artifact, bool, error) {
	r.calls++
	return r.DirRepository.Lookup(ctx, group, name, constraint)
}

func writeDescriptor(t *testing.T, dir, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func identityKey(group, name string) capability.VersionlessKey {
	return capability.VersionlessKey{Kind: capability.KindIdentity, Group: group, Name: name}
}

const childDescriptor = `
apiVersion: workspace.bindery.dev/v1alpha1
kind: Module
metadata:
  name: child
spec:
  identity:
    name: child
  parent:
    group: g
    name: parent
    version: 1.0.0
    relativePath: ../parent
  dependencies:
  - group: g
    name: lib
    version: ">=1.0.0 <2.0.0"
  - group: g
    name: extra
    optional: true
`

func TestDefaultResolver_ParseInheritsFromParent(t *testing.T) {
	path := writeDescriptor(t, filepath.Join(t.TempDir(), "child"), childDescriptor)

	m, err := NewDefault(nil).Parse(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "g", m.EffectiveIdentity().Group)
	assert.Equal(t, "1.0.0", m.EffectiveIdentity().Version)
	assert.Len(t, m.Spec.Dependencies, 2)
}

func TestDefaultResolver_ParseErrors(t *testing.T) {
	dir := t.TempDir()
	r := NewDefault(nil)

	_, err := r.Parse(context.Background(), filepath.Join(dir, "missing", "module.yaml"))
	require.ErrorIs(t, err, ErrDescriptorNotFound)

	cases := map[string]string{
		"unknown-field": "spec:\n  identity: {name: a}\n  bogus: true\n",
		"no-name":       "spec:\n  identity: {group: g}\n",
		"wrong-kind":    "kind: Pod\nspec:\n  identity: {name: a}\n",
		"bad-yaml":      "spec: [\n",
	}
	for name, body := range cases {
		path := writeDescriptor(t, filepath.Join(dir, name), body)
		_, err := r.Parse(context.Background(), path)
		var derr *DescriptorError
		require.True(t, errors.As(err, &derr), "%s: expected DescriptorError, got %v", name, err)
		assert.Equal(t, path, derr.Path)
		assert.False(t, errors.Is(err, ErrDescriptorNotFound), name)
	}
}

func TestDefaultResolver_ReadParentFromBrokenDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, "spec:\n  parent: {group: g, name: parent, version: 1.0.0}\n  bogus: true\n")

	r := NewDefault(nil)
	_, err := r.Parse(context.Background(), path)
	require.Error(t, err)

	parent, err := r.ReadParent(context.Background(), path)
	require.NoError(t, err)
	require.NotNil(t, parent)
	assert.Equal(t, capability.ModuleIdentity{Group: "g", Name: "parent", Version: "1.0.0"}, *parent)

	orphan := writeDescriptor(t, filepath.Join(dir, "orphan"), "spec:\n  identity: {name: x}\n")
	parent, err = r.ReadParent(context.Background(), orphan)
	require.NoError(t, err)
	assert.Nil(t, parent)
}

func TestDefaultResolver_PrefersHighestWorkspaceModule(t *testing.T) {
	path := writeDescriptor(t, filepath.Join(t.TempDir(), "child"), childDescriptor)
	r := NewDefault(nil)
	ctx := context.Background()
	m, err := r.Parse(ctx, path)
	require.NoError(t, err)

	view := staticView{
		{Kind: capability.KindParent, Group: "g", Name: "parent"}: {
			{Descriptor: "/ws/parent/module.yaml", Identity: capability.ModuleIdentity{Group: "g", Name: "parent", Version: "1.0.0"}},
		},
		identityKey("g", "lib"): {
			{Descriptor: "/ws/lib-b/module.yaml", Identity: capability.ModuleIdentity{Group: "g", Name: "lib", Version: "1.5.0"}},
			{Descriptor: "/ws/lib-a/module.yaml", Identity: capability.ModuleIdentity{Group: "g", Name: "lib", Version: "1.5.0"}},
			{Descriptor: "/ws/lib-c/module.yaml", Identity: capability.ModuleIdentity{Group: "g", Name: "lib", Version: "2.0.0"}},
		},
	}

	sess, err := r.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	res, err := sess.Resolve(ctx, path, m, view)
	require.NoError(t, err)

	self := capability.ModuleIdentity{Group: "g", Name: "child", Version: "1.0.0"}
	assert.Equal(t, self, res.Identity)
	assert.Equal(t, []capability.Capability{capability.Identity(self), capability.ParentIdentity(self)}, res.Capabilities)

	require.Len(t, res.Requirements, 3)
	assert.Equal(t, capability.KindParent, res.Requirements[0].Target.Kind)
	assert.True(t, res.Requirements[0].Resolved)
	assert.True(t, res.Requirements[1].Resolved)
	assert.Equal(t, "compile", res.Requirements[1].Scope)
	assert.False(t, res.Requirements[2].Resolved)
	assert.True(t, res.Requirements[2].Optional)

	// Equal versions tie-break on descriptor path.
	assert.Equal(t, "/ws/lib-a/module.yaml", res.Dependencies[1].Descriptor)
	assert.Equal(t, SourceWorkspace, res.Dependencies[1].Source)
	assert.Equal(t, string(SourceWorkspace), res.Requirements[1].Source)
	assert.Equal(t, capability.ModuleIdentity{Group: "g", Name: "lib", Version: "1.5.0"}, res.Requirements[1].Provider)
	assert.Empty(t, res.Requirements[2].Source)

	assert.Empty(t, res.Diagnostics.UnresolvedRequired)
	require.Len(t, res.Diagnostics.UnresolvedOptional, 1)
	assert.Equal(t, identityKey("g", "extra"), res.Diagnostics.UnresolvedOptional[0].Target)
}

func TestDefaultResolver_IgnoresSelf(t *testing.T) {
	path := writeDescriptor(t, t.TempDir(), "spec:\n  identity: {group: g, name: a, version: 1.0.0}\n  dependencies:\n  - {group: g, name: a}\n")
	r := NewDefault(nil)
	ctx := context.Background()
	m, err := r.Parse(ctx, path)
	require.NoError(t, err)

	view := staticView{identityKey("g", "a"): {{Descriptor: path, Identity: capability.ModuleIdentity{Group: "g", Name: "a", Version: "1.0.0"}}}}
	sess, err := r.OpenSession(ctx)
	require.NoError(t, err)
	defer sess.Close()

	res, err := sess.Resolve(ctx, path, m, view)
	require.NoError(t, err)
	require.Len(t, res.Requirements, 1)
	assert.False(t, res.Requirements[0].Resolved)
	assert.Len(t, res.Diagnostics.UnresolvedRequired, 1)
	assert.NotEmpty(t, res.Diagnostics.Message())
}

func TestDefaultResolver_FallsBackToRepository(t *testing.T) {
	repoRoot := t.TempDir()
	for _, v := range []string{"1.0.0", "1.2.0", "2.0.0"} {
		require.NoError(t, os.MkdirAll(filepath.Join(repoRoot, "org", "example", "lib", v), 0o755))
	}
	repo := &countingRepo{DirRepository: DirRepository{Root: repoRoot}}
	r := NewDefault(repo)
	ctx := context.Background()

	path := writeDescriptor(t, t.TempDir(), "spec:\n  identity: {group: g, name: a, version: 1.0.0}\n  dependencies:\n  - {group: org.example, name: lib, version: ^1.0.0}\n")
	m, err := r.Parse(ctx, path)
	require.NoError(t, err)

	sess, err := r.OpenSession(ctx)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := sess.Resolve(ctx, path, m, staticView{})
		require.NoError(t, err)
		require.Len(t, res.Dependencies, 1)
		dep := res.Dependencies[0]
		assert.Equal(t, SourceRepository, dep.Source)
		assert.Equal(t, "1.2.0", dep.Identity.Version)
		assert.Equal(t, string(SourceRepository), res.Requirements[0].Source)
		assert.Equal(t, dep.Identity, res.Requirements[0].Provider)
		assert.Equal(t, filepath.Join(repoRoot, "org", "example", "lib", "1.2.0"), dep.Location)
		assert.True(t, res.Diagnostics.Empty())
	}
	assert.Equal(t, 1, repo.calls, "session caches repository lookups")

	require.NoError(t, sess.Close())
	_, err = sess.Resolve(ctx, path, m, staticView{})
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestDirRepository_Missing(t *testing.T) {
	_, ok, err := DirRepository{Root: t.TempDir()}.Lookup(context.Background(), "g", "none", "*")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirRepository_PicksHighestSatisfying(t *testing.T) {
	root := t.TempDir()
	libDir := filepath.Join(root, "g", "lib")
	for _, v := range []string{"1.0.0", "1.2.0", "1.10.0", "2.0.0", "nightly"} {
		require.NoError(t, os.MkdirAll(filepath.Join(libDir, v), 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "1.11.0"), nil, 0o644))
	repo := DirRepository{Root: root}
	ctx := context.Background()

	cases := []struct {
		constraint string
		want       string
	}{
		{"^1.0.0", "1.10.0"},
		{"~1.2", "1.2.0"},
		{"*", "2.0.0"},
		{"nightly", "nightly"},
	}
	for _, tc := range cases {
		t.Run(tc.constraint, func(t *testing.T) {
			a, ok, err := repo.Lookup(ctx, "g", "lib", tc.constraint)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tc.want, a.Identity.Version)
			assert.Equal(t, filepath.Join(libDir, tc.want), a.Location)
		})
	}

	_, ok, err := repo.Lookup(ctx, "g", "lib", "^3.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}
