package markers

import (
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

// Batch buffers condition updates made by a refresh pass. Nothing reaches
// the Manager until Apply, so a discarded pass leaves no trace.
type Batch struct {
	ops []func(*Manager)
}

func NewBatch() *Batch { return &Batch{} }

func (b *Batch) Clear(path string) {
	b.ops = append(b.ops, func(m *Manager) { m.Clear(path) })
}

func (b *Batch) DescriptorParsed(path string, err error) {
	b.ops = append(b.ops, func(m *Manager) { m.DescriptorParsed(path, err) })
}

func (b *Batch) DependenciesResolved(path string, diag resolver.Diagnostics, err error) {
	b.ops = append(b.ops, func(m *Manager) { m.DependenciesResolved(path, diag, err) })
}

func (b *Batch) LifecycleConfigured(path, strategy string, err error) {
	b.ops = append(b.ops, func(m *Manager) { m.LifecycleConfigured(path, strategy, err) })
}

func (b *Batch) Len() int { return len(b.ops) }

// Apply replays b in recording order. A nil batch is a no-op.
func (m *Manager) Apply(b *Batch) {
	if b == nil {
		return
	}
	for _, op := range b.ops {
		op(m)
	}
}
