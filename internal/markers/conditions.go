// Package markers keeps per-descriptor diagnostics as status conditions and
// mirrors problems to an event recorder.
package markers

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/tools/record"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
	"github.com/bayleafwalker/bindery-workspace/internal/resolver"
)

const (
	ConditionDescriptorParsed     = "DescriptorParsed"
	ConditionDependenciesResolved = "DependenciesResolved"
	ConditionLifecycleConfigured  = "LifecycleConfigured"
)

const (
	ReasonParsed             = "Parsed"
	ReasonParseFailed        = "ParseFailed"
	ReasonResolved           = "Resolved"
	ReasonUnresolved         = "UnresolvedRequirements"
	ReasonOptionalUnresolved = "OptionalUnresolved"
	ReasonResolveFailed      = "ResolveFailed"
	ReasonConfigured         = "Configured"
	ReasonMissingStrategy    = "MissingStrategy"
)

// DescriptorAnnotation carries the descriptor path on recorded event objects.
const DescriptorAnnotation = "workspace.bindery.dev/descriptor"

// Manager stores conditions keyed by descriptor path. It is safe for
// concurrent use.
type Manager struct {
	recorder record.EventRecorder

	mu         sync.RWMutex
	conditions map[string][]metav1.Condition
}

// NewManager returns a Manager. recorder may be nil.
func NewManager(recorder record.EventRecorder) *Manager {
	return &Manager{recorder: recorder, conditions: map[string][]metav1.Condition{}}
}

// Clear drops every condition recorded for path.
func (m *Manager) Clear(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conditions, path)
}

func (m *Manager) set(path string, condition metav1.Condition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.conditions[path]
	meta.SetStatusCondition(&list, condition)
	m.conditions[path] = list
}

func (m *Manager) DescriptorParsed(path string, err error) {
	if err != nil {
		m.set(path, metav1.Condition{
			Type:    ConditionDescriptorParsed,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonParseFailed,
			Message: err.Error(),
		})
		m.recordEventf(path, corev1.EventTypeWarning, ReasonParseFailed, "Failed to parse descriptor: %v", err)
		return
	}
	m.set(path, metav1.Condition{
		Type:   ConditionDescriptorParsed,
		Status: metav1.ConditionTrue,
		Reason: ReasonParsed,
	})
}

// DependenciesResolved records the outcome of resolving path. Unresolved
// optional requirements leave the condition true.
func (m *Manager) DependenciesResolved(path string, diag resolver.Diagnostics, err error) {
	switch {
	case err != nil:
		m.set(path, metav1.Condition{
			Type:    ConditionDependenciesResolved,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonResolveFailed,
			Message: err.Error(),
		})
		m.recordEventf(path, corev1.EventTypeWarning, ReasonResolveFailed, "Failed to resolve dependencies: %v", err)
	case len(diag.UnresolvedRequired) > 0:
		m.set(path, metav1.Condition{
			Type:    ConditionDependenciesResolved,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonUnresolved,
			Message: diag.Message(),
		})
		m.recordEventf(path, corev1.EventTypeWarning, ReasonUnresolved, "%d required dependencies unresolved", len(diag.UnresolvedRequired))
	case len(diag.UnresolvedOptional) > 0:
		m.set(path, metav1.Condition{
			Type:    ConditionDependenciesResolved,
			Status:  metav1.ConditionTrue,
			Reason:  ReasonOptionalUnresolved,
			Message: diag.Message(),
		})
	default:
		m.set(path, metav1.Condition{
			Type:   ConditionDependenciesResolved,
			Status: metav1.ConditionTrue,
			Reason: ReasonResolved,
		})
	}
}

func (m *Manager) LifecycleConfigured(path, strategy string, err error) {
	if err != nil {
		m.set(path, metav1.Condition{
			Type:    ConditionLifecycleConfigured,
			Status:  metav1.ConditionFalse,
			Reason:  ReasonMissingStrategy,
			Message: err.Error(),
		})
		m.recordEventf(path, corev1.EventTypeWarning, ReasonMissingStrategy, "%v", err)
		return
	}
	m.set(path, metav1.Condition{
		Type:    ConditionLifecycleConfigured,
		Status:  metav1.ConditionTrue,
		Reason:  ReasonConfigured,
		Message: fmt.Sprintf("strategy %q", strategy),
	})
}

// Conditions returns a copy of the conditions recorded for path.
func (m *Manager) Conditions(path string) []metav1.Condition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]metav1.Condition, len(m.conditions[path]))
	copy(out, m.conditions[path])
	return out
}

func (m *Manager) Condition(path, conditionType string) *metav1.Condition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := meta.FindStatusCondition(m.conditions[path], conditionType)
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

// Problems lists the descriptors with at least one false condition.
func (m *Manager) Problems() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for path, list := range m.conditions {
		for _, c := range list {
			if c.Status == metav1.ConditionFalse {
				out = append(out, path)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (m *Manager) recordEventf(path, eventType, reason, messageFmt string, args ...any) {
	if m.recorder == nil {
		return
	}
	m.recorder.Eventf(eventObject(path), eventType, reason, messageFmt, args...)
}

func eventObject(path string) *workspacev1alpha1.Module {
	return &workspacev1alpha1.Module{
		TypeMeta: metav1.TypeMeta{
			APIVersion: workspacev1alpha1.GroupVersion.String(),
			Kind:       workspacev1alpha1.ModuleKind,
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        filepath.Base(filepath.Dir(path)),
			Annotations: map[string]string{DescriptorAnnotation: path},
		},
	}
}
