package resolver

import (
	"context"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/capability"
)

// Embedder is the build-tool boundary: it parses descriptors and resolves
// their dependencies. Implementations must be safe for concurrent use.
type Embedder interface {
	// Parse reads the descriptor without resolving dependency coordinates.
	// A missing file yields an error wrapping ErrDescriptorNotFound.
	Parse(ctx context.Context, path string) (*workspacev1alpha1.Module, error)

	// ReadParent is a best-effort read of only the parent reference, used
	// for descriptors that fail to parse. It returns nil when none is declared.
	ReadParent(ctx context.Context, path string) (*capability.ModuleIdentity, error)

	// OpenSession starts a resolution session scoped to one refresh pass.
	OpenSession(ctx context.Context) (Session, error)
}

// Session resolves parsed models. It may cache repository lookups until closed.
type Session interface {
	Resolve(ctx context.Context, path string, model *workspacev1alpha1.Module, view WorkspaceView) (*Resolution, error)
	Close() error
}

// WorkspaceView exposes the modules currently known to a refresh pass so
// workspace modules can be preferred over repository artifacts.
type WorkspaceView interface {
	WorkspaceModules(key capability.VersionlessKey) []WorkspaceModule
}

// Repository looks up artifacts outside the workspace.
type Repository interface {
	Lookup(ctx context.Context, group, name, constraint string) (Artifact, bool, error)
}
