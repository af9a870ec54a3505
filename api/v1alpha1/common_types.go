package v1alpha1

type DependencyScope string

const (
	ScopeCompile  DependencyScope = "compile"
	ScopeRuntime  DependencyScope = "runtime"
	ScopeTest     DependencyScope = "test"
	ScopeProvided DependencyScope = "provided"
)

// DefaultPackaging is used when a descriptor leaves spec.packaging empty.
const DefaultPackaging = "jar"

// ModuleIdentity is the (group, name, version) coordinate of a module.
type ModuleIdentity struct {
	Group   string `json:"group,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// ParentRef points at the parent descriptor. RelativePath is resolved
// against the module directory and defaults to "..".
type ParentRef struct {
	Group        string `json:"group"`
	Name         string `json:"name"`
	Version      string `json:"version,omitempty"`
	RelativePath string `json:"relativePath,omitempty"`
}

type Dependency struct {
	Group    string          `json:"group"`
	Name     string          `json:"name"`
	Version  string          `json:"version,omitempty"`
	Scope    DependencyScope `json:"scope,omitempty"`
	Optional bool            `json:"optional,omitempty"`
}

type ResourceMapping struct {
	Directory  string   `json:"directory"`
	TargetPath string   `json:"targetPath,omitempty"`
	Includes   []string `json:"includes,omitempty"`
	Excludes   []string `json:"excludes,omitempty"`
}

type OutputDirectories struct {
	Directory     string `json:"directory,omitempty"`
	TestDirectory string `json:"testDirectory,omitempty"`
}
