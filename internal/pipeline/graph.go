package pipeline

import (
	"container/heap"
	"context"
)

// TaskFunc runs one task and reports its outcome as a value
type TaskFunc func(ctx context.Context) TaskResult

// Task is a named unit of work in a graph
type Task struct {
	ID  string
	Run TaskFunc
}

// Edge orders two tasks: From must complete before To starts
type Edge struct {
	From string
	To   string
}

// Graph is an immutable, validated DAG of tasks.
// Declaration order breaks ties wherever an order is otherwise free.
type Graph struct {
	tasks    []Task
	index    map[string]int
	edges    []Edge
	outgoing [][]int
	incoming [][]int
	depth    []int
}

// NewGraph builds and validates a Graph.
//
// Validation rejects:
//   - an empty task list
//   - empty or duplicate task ids, tasks without a function
//   - edges referencing unknown tasks, duplicate edges, self-loops
//   - any cycle
func NewGraph(tasks []Task, edges []Edge) (*Graph, error) {
	if len(tasks) == 0 {
		return nil, invalidf("no tasks")
	}

	g := &Graph{
		tasks:    make([]Task, 0, len(tasks)),
		index:    make(map[string]int, len(tasks)),
		outgoing: make([][]int, len(tasks)),
		incoming: make([][]int, len(tasks)),
	}

	for _, t := range tasks {
		if t.ID == "" {
			return nil, invalidf("task id is required")
		}
		if _, exists := g.index[t.ID]; exists {
			return nil, invalidf("duplicate task id: %q", t.ID)
		}
		if t.Run == nil {
			return nil, invalidf("task %q has no function", t.ID)
		}
		g.index[t.ID] = len(g.tasks)
		g.tasks = append(g.tasks, t)
	}

	seen := make(map[Edge]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := g.index[e.From]
		to, okTo := g.index[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown task (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown task (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q -> %q", e.From, e.To)
		}
		if _, exists := seen[e]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[e] = struct{}{}

		g.edges = append(g.edges, e)
		g.outgoing[from] = append(g.outgoing[from], to)
		g.incoming[to] = append(g.incoming[to], from)
	}

	order := g.topoOrder()
	if len(order) != len(g.tasks) {
		return nil, cycleError(g.findCycle())
	}
	g.depth = g.computeDepth(order)

	return g, nil
}

// Len returns the number of tasks
func (g *Graph) Len() int { return len(g.tasks) }

// Task returns a task by id
func (g *Graph) Task(id string) (Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return Task{}, false
	}
	return g.tasks[i], true
}

// Tasks returns the tasks in declaration order
func (g *Graph) Tasks() []Task {
	out := make([]Task, len(g.tasks))
	copy(out, g.tasks)
	return out
}

// Edges returns the edges in declaration order
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Upstream returns the direct dependencies of id
func (g *Graph) Upstream(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.incoming[i])
}

// Downstream returns the tasks that directly depend on id
func (g *Graph) Downstream(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.outgoing[i])
}

// Order returns a deterministic topological order of task ids
func (g *Graph) Order() []string {
	return g.names(g.topoOrder())
}

// Levels groups task ids by depth (longest path from a root).
// Tasks in the same level never depend on each other.
func (g *Graph) Levels() [][]string {
	var levels [][]string
	for i, d := range g.depth {
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], g.tasks[i].ID)
	}
	return levels
}

func (g *Graph) names(idx []int) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, g.tasks[i].ID)
	}
	return out
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap on declaration index.
// A result shorter than the task list means a cycle.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.tasks))
	for i := range g.incoming {
		indeg[i] = len(g.incoming[i])
	}

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

func (g *Graph) computeDepth(order []int) []int {
	depth := make([]int, len(g.tasks))
	for _, u := range order {
		for _, p := range g.incoming[u] {
			if depth[p]+1 > depth[u] {
				depth[u] = depth[p] + 1
			}
		}
	}
	return depth
}

// findCycle returns one cycle as a closed path of task ids
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.tasks))
	var stack []int
	var cycle []int

	var visit func(u int) bool
	visit = func(u int) bool {
		color[u] = gray
		stack = append(stack, u)
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case gray:
				// 스택에서 v부터 현재까지가 사이클
				for i, s := range stack {
					if s == v {
						cycle = append(append([]int{}, stack[i:]...), v)
						return true
					}
				}
			case white:
				if visit(v) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[u] = black
		return false
	}

	for i := range g.tasks {
		if color[i] == white && visit(i) {
			break
		}
	}
	return g.names(cycle)
}
