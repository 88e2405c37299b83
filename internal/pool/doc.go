// Package pool maps ready tasks onto a bounded pool of worker agents. It
// reuses idle workers of the right specialization before creating new ones,
// leaves tasks pending when the capacity ceiling is reached, returns workers
// to the pool on completion or failure, and retires workers idle past the
// configured window. Every pass over one project is serialized so partial
// assignments are never observable.
package pool
