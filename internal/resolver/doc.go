// Package resolver contains the dependency resolver core for project task
// graphs. It inspects the current task set, evaluates which pending tasks have
// every blocking task completed, and surfaces graph integrity problems
// (cycles, dangling references) as non-fatal diagnostics for the coordinator.
package resolver
