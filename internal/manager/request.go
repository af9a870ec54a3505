package manager

import (
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/sets"
)

// UpdateRequest asks for the listed descriptors to be refreshed. Forced
// descriptors are re-read even when their facade is current.
type UpdateRequest struct {
	ID    uuid.UUID
	Paths []string
	Force bool
}

func NewUpdateRequest(force bool, paths ...string) UpdateRequest {
	return UpdateRequest{ID: uuid.New(), Paths: paths, Force: force}
}

type ChangeKind string

const (
	ChangeAdded           ChangeKind = "Added"
	ChangeRemoved         ChangeKind = "Removed"
	ChangeContentChanged  ChangeKind = "ContentChanged"
	ChangeMetadataChanged ChangeKind = "MetadataChanged"
)

// Change is one workspace notification. For metadata changes Path is the
// owning descriptor, not the metadata file.
type Change struct {
	Path string
	Kind ChangeKind
}

// RequestsFor maps a notification batch to at most two requests: content
// and metadata changes are forced, additions and removals are not.
func RequestsFor(changes []Change) []UpdateRequest {
	var forced, plain []string
	seenForced, seenPlain := sets.New[string](), sets.New[string]()
	for _, c := range changes {
		switch c.Kind {
		case ChangeContentChanged, ChangeMetadataChanged:
			if !seenForced.Has(c.Path) {
				seenForced.Insert(c.Path)
				forced = append(forced, c.Path)
			}
		case ChangeAdded, ChangeRemoved:
			if !seenPlain.Has(c.Path) {
				seenPlain.Insert(c.Path)
				plain = append(plain, c.Path)
			}
		}
	}
	var out []UpdateRequest
	if len(forced) > 0 {
		out = append(out, NewUpdateRequest(true, forced...))
	}
	if len(plain) > 0 {
		out = append(out, NewUpdateRequest(false, plain...))
	}
	return out
}
