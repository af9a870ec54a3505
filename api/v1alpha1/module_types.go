package v1alpha1

import (
	"path/filepath"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Module is a workspace build descriptor, conventionally stored as module.yaml.
//
// +kubebuilder:object:root=true
type Module struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec ModuleSpec `json:"spec"`
}

type ModuleSpec struct {
	Identity     ModuleIdentity    `json:"identity"`
	Parent       *ParentRef        `json:"parent,omitempty"`
	Packaging    string            `json:"packaging,omitempty"`
	Lifecycle    string            `json:"lifecycle,omitempty"`
	Modules      []string          `json:"modules,omitempty"`
	Dependencies []Dependency      `json:"dependencies,omitempty"`
	Resources    []ResourceMapping `json:"resources,omitempty"`
	Output       OutputDirectories `json:"output,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
}

// +kubebuilder:object:root=true
type ModuleList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Module `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Module{}, &ModuleList{})
}

// EffectiveIdentity returns the declared identity with group and version
// inherited from the parent reference when left empty.
func (m *Module) EffectiveIdentity() ModuleIdentity {
	id := m.Spec.Identity
	if p := m.Spec.Parent; p != nil {
		if id.Group == "" {
			id.Group = p.Group
		}
		if id.Version == "" {
			id.Version = p.Version
		}
	}
	return id
}

func (m *Module) EffectivePackaging() string {
	if m.Spec.Packaging == "" {
		return DefaultPackaging
	}
	return m.Spec.Packaging
}

// ParentDescriptor returns the descriptor path the parent reference points
// at, given the path of this module's descriptor.
func (m *Module) ParentDescriptor(descriptor string) string {
	if m.Spec.Parent == nil {
		return ""
	}
	rel := m.Spec.Parent.RelativePath
	if rel == "" {
		rel = ".."
	}
	return filepath.Join(filepath.Dir(descriptor), rel, filepath.Base(descriptor))
}
