package markers

import (
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/tools/record"

	workspacev1alpha1 "github.com/bayleafwalker/bindery-workspace/api/v1alpha1"
)

// Component is the event source reported by the recorder.
const Component = "bindery-workspace"

// NewRecorder returns an event recorder that writes events to logger. The
// returned stop function shuts the broadcaster down.
func NewRecorder(logger logr.Logger) (record.EventRecorder, func(), error) {
	scheme := runtime.NewScheme()
	if err := workspacev1alpha1.AddToScheme(scheme); err != nil {
		return nil, nil, fmt.Errorf("markers: build scheme: %w", err)
	}
	broadcaster := record.NewBroadcaster()
	broadcaster.StartLogging(func(format string, args ...interface{}) {
		logger.Info(fmt.Sprintf(format, args...))
	})
	recorder := broadcaster.NewRecorder(scheme, corev1.EventSource{Component: Component})
	return recorder, broadcaster.Shutdown, nil
}
