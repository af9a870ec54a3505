package manager

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// ResolutionContext is the work queue of one refresh pass: descriptors
// pending a re-read, each optionally forced. A descriptor is queued at most
// once; pushing it again only upgrades the force flag.
type ResolutionContext struct {
	order  []string
	queued sets.Set[string]
	forced sets.Set[string]
}

func NewResolutionContext(requests ...UpdateRequest) *ResolutionContext {
	c := &ResolutionContext{queued: sets.New[string](), forced: sets.New[string]()}
	for _, r := range requests {
		for _, p := range r.Paths {
			c.Push(p, r.Force)
		}
	}
	return c
}

func (c *ResolutionContext) Push(path string, force bool) {
	if force {
		c.forced.Insert(path)
	}
	if c.queued.Has(path) {
		return
	}
	c.queued.Insert(path)
	c.order = append(c.order, path)
}

// Force queues every path with the force flag set.
func (c *ResolutionContext) Force(paths ...string) {
	for _, p := range paths {
		c.Push(p, true)
	}
}

// Pop removes the oldest descriptor and its force flag.
func (c *ResolutionContext) Pop() (string, bool) {
	path := c.order[0]
	c.order = c.order[1:]
	c.queued.Delete(path)
	force := c.forced.Has(path)
	c.forced.Delete(path)
	return path, force
}

func (c *ResolutionContext) Empty() bool { return len(c.order) == 0 }

func (c *ResolutionContext) Len() int { return len(c.order) }
