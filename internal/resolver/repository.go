package resolver

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/semver"
)

// DirRepository is a local artifact repository laid out as
// <root>/<group with dots as slashes>/<name>/<version>/.
type DirRepository struct {
	Root string
}

var _ Repository = DirRepository{}

func (r DirRepository) Lookup(ctx context.Context, group, name, constraint string) (Artifact, bool, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, false, err
	}
	dir := filepath.Join(r.Root, filepath.FromSlash(strings.ReplaceAll(group, ".", "/")), name)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, false, nil
	}
	if err != nil {
		return Artifact{}, false, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	best := highestSatisfying(names, constraint)
	if best == "" {
		return Artifact{}, false, nil
	}
	return Artifact{
		Identity: capability.ModuleIdentity{Group: group, Name: name, Version: best},
		Location: filepath.Join(dir, best),
	}, true, nil
}

// highestSatisfying returns the highest name satisfying constraint, or "".
// Names that are not semantic versions only match literally and rank below
// every parsable version.
func highestSatisfying(names []string, constraint string) string {
	if c, err := semver.ParseConstraint(constraint); err == nil && !semver.IsAny(constraint) {
		versions := make([]semver.Version, 0, len(names))
		for _, n := range names {
			if v, err := semver.ParseVersion(n); err == nil {
				versions = append(versions, v)
			}
		}
		if v, ok := semver.MaxSatisfying(c, versions); ok {
			return v.String()
		}
	}

	best := ""
	for _, n := range names {
		if !semver.Check(n, constraint) {
			continue
		}
		if best == "" || semver.CompareRaw(n, best) > 0 {
			best = n
		}
	}
	return best
}
