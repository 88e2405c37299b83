// Package gates models quality gate outcomes for task completion. The rule
// engine that decides pass or fail is an external collaborator; this package
// only carries its verdicts, which the pool coordinator turns into task
// completion or retry.
package gates

import (
	"fmt"
	"strings"
)

// Category names one quality gate.
type Category string

const (
	CategoryTests     Category = "tests"
	CategoryCoverage  Category = "coverage"
	CategoryTypeCheck Category = "type_check"
	CategoryLint      Category = "lint"
	CategoryReview    Category = "review"
)

// Categories lists every known gate in report order.
func Categories() []Category {
	return []Category{CategoryTests, CategoryCoverage, CategoryTypeCheck, CategoryLint, CategoryReview}
}

// Check is one gate's verdict for a task.
type Check struct {
	Category Category
	Passed   bool
	Detail   string
}

// Result aggregates the gate checks reported for one task.
type Result struct {
	TaskID int64
	Checks []Check
}

// Passed reports whether every check succeeded. An empty result passes; a
// task with no gates configured has nothing to fail.
func (r Result) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns the categories that failed.
func (r Result) Failures() []Category {
	var failed []Category
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.Category)
		}
	}
	return failed
}

// Summary renders a one-line human-readable verdict for the activity feed.
func (r Result) Summary() string {
	if r.Passed() {
		return fmt.Sprintf("all %d gates passed", len(r.Checks))
	}
	names := make([]string, 0, len(r.Checks))
	for _, c := range r.Failures() {
		names = append(names, string(c))
	}
	return fmt.Sprintf("gates failed: %s", strings.Join(names, ", "))
}
