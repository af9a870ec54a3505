// Package graph derives the module dependency graph from a published
// snapshot, for inspection and export.
package graph

import (
	"fmt"
	"io"

	"github.com/bayleafwalker/bindery-workspace/internal/capability"
	"github.com/bayleafwalker/bindery-workspace/internal/registry"
)

type Node struct {
	Descriptor string                    `json:"descriptor"`
	Identity   capability.ModuleIdentity `json:"identity"`
}

// Edge links a requiring descriptor to a workspace descriptor that
// satisfies the requirement.
type Edge struct {
	From        string                 `json:"from"`
	To          string                 `json:"to"`
	Requirement capability.Requirement `json:"requirement"`
}

// DependencyGraph is ordered by descriptor, then by requirement
// declaration order. Requirements satisfied outside the workspace have no
// edge.
type DependencyGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func Build(r *registry.ProjectRegistry) DependencyGraph {
	var g DependencyGraph
	for _, e := range r.Entries() {
		if e.Facade != nil {
			g.Nodes = append(g.Nodes, Node{Descriptor: e.Descriptor, Identity: e.Facade.Identity()})
		}
		for _, req := range e.Requirements {
			for _, m := range r.WorkspaceModules(req.Target) {
				if m.Descriptor == e.Descriptor {
					continue
				}
				c := capability.Capability{Kind: req.Target.Kind, Identity: m.Identity}
				if req.Matches(c, false) {
					g.Edges = append(g.Edges, Edge{From: e.Descriptor, To: m.Descriptor, Requirement: req})
				}
			}
		}
	}
	return g
}

// WriteDOT renders g in Graphviz format, labelling nodes by identity.
func (g DependencyGraph) WriteDOT(w io.Writer) error {
	label := make(map[string]string, len(g.Nodes))
	if _, err := fmt.Fprintln(w, "digraph workspace {"); err != nil {
		return err
	}
	for _, n := range g.Nodes {
		label[n.Descriptor] = n.Identity.String()
		if _, err := fmt.Fprintf(w, "  %q;\n", n.Identity.String()); err != nil {
			return err
		}
	}
	for _, e := range g.Edges {
		from, to := label[e.From], label[e.To]
		if from == "" {
			from = e.From
		}
		if _, err := fmt.Fprintf(w, "  %q -> %q [label=%q];\n", from, to, e.Requirement.Target.Kind); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
