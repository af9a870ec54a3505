package facade

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

func newModule(t *testing.T) (string, *workspacev1alpha1.Module) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "module.yaml")
	require.NoError(t, os.WriteFile(path, []byte("spec: {}\n"), 0o644))
	return path, &workspacev1alpha1.Module{Spec: workspacev1alpha1.ModuleSpec{
		Identity:  workspacev1alpha1.ModuleIdentity{Group: "g", Name: "m", Version: "1.0.0"},
		Modules:   []string{"sub"},
		Resources: []workspacev1alpha1.ResourceMapping{{Directory: "res"}},
		Output:    workspacev1alpha1.OutputDirectories{Directory: "target/classes"},
	}}
}

func touch(t *testing.T, path string, at time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, at, at))
}

func TestNewTracksMetadataThenDescriptor(t *testing.T) {
	path, model := newModule(t)
	f := New(path, model, DefaultMetadataFiles)

	tracked := f.TrackedFiles()
	require.Len(t, tracked, 2)
	assert.Equal(t, filepath.Join(filepath.Dir(path), ".bindery", "settings.yaml"), tracked[0])
	assert.Equal(t, path, tracked[1])

	ts := f.Timestamps()
	assert.Zero(t, ts[0], "missing metadata file records zero")
	assert.NotZero(t, ts[1])
	assert.False(t, f.IsStale())
}

func TestIsStale(t *testing.T) {
	t.Run("descriptor touched", func(t *testing.T) {
		path, model := newModule(t)
		f := New(path, model, nil)
		touch(t, path, time.Now().Add(time.Hour))
		assert.True(t, f.IsStale())
	})

	t.Run("descriptor deleted", func(t *testing.T) {
		path, model := newModule(t)
		f := New(path, model, nil)
		require.NoError(t, os.Remove(path))
		assert.True(t, f.IsStale())
	})

	t.Run("metadata file appears", func(t *testing.T) {
		path, model := newModule(t)
		f := New(path, model, DefaultMetadataFiles)
		settings := filepath.Join(filepath.Dir(path), ".bindery", "settings.yaml")
		require.NoError(t, os.MkdirAll(filepath.Dir(settings), 0o755))
		require.NoError(t, os.WriteFile(settings, []byte("x: 1\n"), 0o644))
		assert.True(t, f.IsStale())
	})
}

func TestPathsAreAbsolute(t *testing.T) {
	path, model := newModule(t)
	f := New(path, model, nil)
	dir := filepath.Dir(path)

	assert.Equal(t, []string{filepath.Join(dir, "sub")}, f.Modules())
	assert.Equal(t, filepath.Join(dir, "res"), f.Resources()[0].Directory)
	assert.Equal(t, "res", model.Spec.Resources[0].Directory, "model is not modified")
	assert.Equal(t, filepath.Join(dir, "target", "classes"), f.Output().Directory)
	assert.Empty(t, f.Output().TestDirectory)
	assert.Equal(t, workspacev1alpha1.DefaultPackaging, f.Packaging())
}

func TestWithResolution(t *testing.T) {
	path, model := newModule(t)
	f := New(path, model, nil)
	res := &resolver.Resolution{Identity: capability.ModuleIdentity{Group: "g", Name: "m", Version: "1.0.0"}}
	lc := Lifecycle{Strategy: "noop"}

	g := f.WithResolution(res, lc)
	assert.Nil(t, f.CachedResolution(), "original is unchanged")
	assert.Same(t, res, g.CachedResolution())
	assert.Equal(t, lc, g.Lifecycle())
	assert.Equal(t, f.Timestamps(), g.Timestamps())
}

func TestResolutionLoadsOnce(t *testing.T) {
	path, model := newModule(t)
	f := New(path, model, nil)

	calls := 0
	boom := errors.New("boom")
	fail := func(context.Context, *ModuleFacade) (*resolver.Resolution, error) {
		calls++
		return nil, boom
	}
	load := func(_ context.Context, got *ModuleFacade) (*resolver.Resolution, error) {
		calls++
		return &resolver.Resolution{Identity: got.Identity()}, nil
	}

	_, err := f.Resolution(context.Background(), fail)
	require.ErrorIs(t, err, boom)

	first, err := f.Resolution(context.Background(), load)
	require.NoError(t, err)
	second, err := f.Resolution(context.Background(), load)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 2, calls)
}

func TestStateRoundTrip(t *testing.T) {
	path, model := newModule(t)
	f := New(path, model, DefaultMetadataFiles).WithResolution(nil, Lifecycle{Strategy: "jar", Participants: []string{"compile"}})

	restored := FromState(f.State())
	assert.Equal(t, f.Descriptor(), restored.Descriptor())
	assert.Equal(t, f.Identity(), restored.Identity())
	assert.Equal(t, f.Timestamps(), restored.Timestamps())
	assert.Equal(t, f.Lifecycle(), restored.Lifecycle())
	assert.False(t, restored.IsStale())
	assert.Nil(t, restored.CachedResolution())
}
