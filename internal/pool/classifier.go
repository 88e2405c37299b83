package pool

import (
	"strings"

	"github.com/kingrea/crucible/internal/model"
)

// classifyTask picks the worker specialization for a task from its title.
// Planning does not annotate tasks with a specialization, so assignment falls
// back to keyword heuristics; anything unrecognized goes to a backend worker.
func classifyTask(title string) model.WorkerType {
	lowered := strings.ToLower(title)
	for _, kw := range []string{"test", "spec", "coverage", "e2e"} {
		if strings.Contains(lowered, kw) {
			return model.WorkerTest
		}
	}
	for _, kw := range []string{"ui", "frontend", "component", "page", "css", "style", "layout"} {
		if strings.Contains(lowered, kw) {
			return model.WorkerFrontend
		}
	}
	for _, kw := range []string{"review", "audit"} {
		if strings.Contains(lowered, kw) {
			return model.WorkerReview
		}
	}
	return model.WorkerBackend
}
