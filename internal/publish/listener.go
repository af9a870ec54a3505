package publish

import (
	"context"
	"encoding/json"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/bayleafwalker/bindery-workspace/internal/manager"
)

// DefaultSubject prefixes every published event subject.
const DefaultSubject = "bindery.workspace.modules"

// EventListener publishes each change event as JSON on
// "<subject>.<kind>", for example bindery.workspace.modules.added.
type EventListener struct {
	publisher Publisher
	subject   string
}

var _ manager.Listener = (*EventListener)(nil)

func NewEventListener(p Publisher, subject string) *EventListener {
	if subject == "" {
		subject = DefaultSubject
	}
	return &EventListener{publisher: p, subject: subject}
}

// Subject returns the subject used for events of kind.
func (l *EventListener) Subject(kind manager.EventKind) string {
	return l.subject + "." + strings.ToLower(string(kind))
}

// ModulesChanged publishes events in order. Failures are logged and do not
// stop the remaining events of the batch.
func (l *EventListener) ModulesChanged(ctx context.Context, events []manager.ChangeEvent) {
	logger := log.FromContext(ctx).WithName("publish")
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			logger.Error(err, "encoding change event", "descriptor", ev.Descriptor)
			continue
		}
		if err := l.publisher.Publish(ctx, l.Subject(ev.Kind), payload); err != nil {
			logger.Error(err, "publishing change event", "descriptor", ev.Descriptor, "kind", ev.Kind)
		}
	}
}
