// Package v1alpha1 contains the workspace module descriptor schema.
//
// +groupName=workspace.bindery.dev
package v1alpha1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is the group version used in descriptor apiVersion fields.
	GroupVersion = schema.GroupVersion{Group: "workspace.bindery.dev", Version: "v1alpha1"}

	// SchemeBuilder registers the descriptor kinds with a runtime.Scheme.
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)

// ModuleKind is the only kind a descriptor may declare.
const ModuleKind = "Module"
