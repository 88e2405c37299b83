package resolver

import (
	"fmt"
	"sort"

	"github.com/kingrea/crucible/internal/model"
)

// DiagnosticKind classifies graph integrity problems.
type DiagnosticKind string

const (
	DiagnosticCycle    DiagnosticKind = "cycle"
	DiagnosticDangling DiagnosticKind = "dangling-reference"
)

// Diagnostic describes one integrity problem found while building the graph.
// Diagnostics are advisory: the affected tasks stay permanently unready and
// everything else proceeds.
type Diagnostic struct {
	Kind    DiagnosticKind
	TaskIDs []int64
	Detail  string
}

// Graph is an evaluated snapshot of one project's task dependency graph.
// Build it fresh on every task status change; it is cheap and carries no
// state between passes.
type Graph struct {
	tasks       map[int64]model.Task
	deps        map[int64][]int64
	dependents  map[int64][]int64
	completed   map[int64]struct{}
	unready     map[int64]struct{}
	diagnostics []Diagnostic
	ordered     []int64
}

// Build constructs the graph from the current task set. It never fails:
// self-dependencies, references to unknown tasks, and cycles are recorded as
// diagnostics and their tasks excluded from readiness.
func Build(tasks []model.Task) *Graph {
	g := &Graph{
		tasks:      make(map[int64]model.Task, len(tasks)),
		deps:       make(map[int64][]int64),
		dependents: make(map[int64][]int64),
		completed:  make(map[int64]struct{}),
		unready:    make(map[int64]struct{}),
	}
	for _, t := range tasks {
		g.tasks[t.ID] = t
		g.ordered = append(g.ordered, t.ID)
		if t.Status == model.TaskCompleted {
			g.completed[t.ID] = struct{}{}
		}
	}
	sort.Slice(g.ordered, func(i, j int) bool { return g.ordered[i] < g.ordered[j] })
	for _, id := range g.ordered {
		t := g.tasks[id]
		for _, dep := range t.BlockedBy {
			if dep == id {
				g.markDangling(id, fmt.Sprintf("task %d depends on itself", id))
				continue
			}
			if _, known := g.tasks[dep]; !known {
				g.markDangling(id, fmt.Sprintf("task %d depends on unknown task %d", id, dep))
				continue
			}
			g.deps[id] = append(g.deps[id], dep)
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}
	g.detectCycles()
	return g
}

// Ready returns the pending tasks whose every blocking task is completed, in
// ascending id order. Tasks flagged by a diagnostic never appear.
func (g *Graph) Ready() []int64 {
	var ready []int64
	for _, id := range g.ordered {
		t := g.tasks[id]
		if t.Status != model.TaskPending && t.Status != model.TaskBlocked {
			continue
		}
		if _, bad := g.unready[id]; bad {
			continue
		}
		if g.satisfied(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

// Unblocked marks completedID complete and reports which tasks become ready
// as a result. Callers rebuild the graph once the change is stored.
func (g *Graph) Unblocked(completedID int64) []int64 {
	g.completed[completedID] = struct{}{}
	var unblocked []int64
	for _, id := range g.dependents[completedID] {
		if _, bad := g.unready[id]; bad {
			continue
		}
		t := g.tasks[id]
		if t.Status != model.TaskPending && t.Status != model.TaskBlocked {
			continue
		}
		if g.satisfied(id) {
			unblocked = append(unblocked, id)
		}
	}
	sort.Slice(unblocked, func(i, j int) bool { return unblocked[i] < unblocked[j] })
	return unblocked
}

// Blocked returns every incomplete task with at least one unsatisfied
// dependency, mapped to the blocking ids still outstanding.
func (g *Graph) Blocked() map[int64][]int64 {
	blocked := make(map[int64][]int64)
	for _, id := range g.ordered {
		if _, done := g.completed[id]; done {
			continue
		}
		var open []int64
		for _, dep := range g.deps[id] {
			if _, done := g.completed[dep]; !done {
				open = append(open, dep)
			}
		}
		if len(open) > 0 {
			sort.Slice(open, func(i, j int) bool { return open[i] < open[j] })
			blocked[id] = open
		}
	}
	return blocked
}

// Diagnostics returns the integrity problems found at build time, one entry
// per distinct cycle plus one per dangling reference.
func (g *Graph) Diagnostics() []Diagnostic {
	out := make([]Diagnostic, len(g.diagnostics))
	copy(out, g.diagnostics)
	return out
}

func (g *Graph) satisfied(id int64) bool {
	for _, dep := range g.deps[id] {
		if _, done := g.completed[dep]; !done {
			return false
		}
	}
	return true
}

func (g *Graph) markDangling(id int64, detail string) {
	g.unready[id] = struct{}{}
	g.diagnostics = append(g.diagnostics, Diagnostic{
		Kind:    DiagnosticDangling,
		TaskIDs: []int64{id},
		Detail:  detail,
	})
}

// detectCycles runs a three-color DFS over the dependency edges. Every node
// on a cycle is marked permanently unready and each distinct cycle yields
// exactly one diagnostic.
func (g *Graph) detectCycles() {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)
	color := make(map[int64]int, len(g.tasks))
	onCycle := make(map[int64]struct{})
	var path []int64

	var visit func(int64)
	visit = func(id int64) {
		color[id] = grey
		path = append(path, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case white:
				visit(dep)
			case grey:
				cycle := extractCycle(path, dep)
				if g.recordCycle(cycle, onCycle) {
					for _, member := range cycle {
						g.unready[member] = struct{}{}
						onCycle[member] = struct{}{}
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}
	for _, id := range g.ordered {
		if color[id] == white {
			visit(id)
		}
	}
}

// recordCycle appends a diagnostic unless every member already belongs to a
// reported cycle, which keeps the guarantee of one diagnostic per cycle.
func (g *Graph) recordCycle(cycle []int64, seen map[int64]struct{}) bool {
	fresh := false
	for _, id := range cycle {
		if _, ok := seen[id]; !ok {
			fresh = true
			break
		}
	}
	if !fresh {
		return false
	}
	sorted := make([]int64, len(cycle))
	copy(sorted, cycle)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	g.diagnostics = append(g.diagnostics, Diagnostic{
		Kind:    DiagnosticCycle,
		TaskIDs: sorted,
		Detail:  fmt.Sprintf("dependency cycle among tasks %v", sorted),
	})
	return true
}

func extractCycle(path []int64, entry int64) []int64 {
	for i, id := range path {
		if id == entry {
			cycle := make([]int64, len(path)-i)
			copy(cycle, path[i:])
			return cycle
		}
	}
	return []int64{entry}
}
