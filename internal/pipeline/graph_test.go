package pipeline

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func noop(ctx context.Context) TaskResult { return TaskResult{} }

func tasks(ids ...string) []Task {
	out := make([]Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, Task{ID: id, Run: noop})
	}
	return out
}

func TestNewGraph_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task
		edges []Edge
		want  error
		msg   string
	}{
		{"empty", nil, nil, ErrInvalidGraph, "no tasks"},
		{"empty id", tasks(""), nil, ErrInvalidGraph, "id is required"},
		{"duplicate id", tasks("a", "a"), nil, ErrInvalidGraph, "duplicate task id"},
		{"nil func", []Task{{ID: "a"}}, nil, ErrInvalidGraph, "no function"},
		{"unknown from", tasks("a"), []Edge{{"x", "a"}}, ErrInvalidGraph, "(from)"},
		{"unknown to", tasks("a"), []Edge{{"a", "x"}}, ErrInvalidGraph, "(to)"},
		{"self loop", tasks("a"), []Edge{{"a", "a"}}, ErrInvalidGraph, "self-loop"},
		{"duplicate edge", tasks("a", "b"), []Edge{{"a", "b"}, {"a", "b"}}, ErrInvalidGraph, "duplicate edge"},
		{"cycle", tasks("a", "b", "c"), []Edge{{"a", "b"}, {"b", "c"}, {"c", "a"}}, ErrCycleFound, "a -> b -> c -> a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGraph(tt.tasks, tt.edges)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			var ge *GraphError
			if !errors.As(err, &ge) {
				t.Fatalf("GraphError가 아님: %T", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("err = %q, want containing %q", err.Error(), tt.msg)
			}
		})
	}
}

func TestGraph_OrderAndLevels(t *testing.T) {
	// a -> c, b -> c, c -> d
	g, err := NewGraph(tasks("d", "c", "b", "a"), []Edge{{"a", "c"}, {"b", "c"}, {"c", "d"}})
	if err != nil {
		t.Fatalf("그래프 생성 실패: %v", err)
	}

	if got := g.Order(); !reflect.DeepEqual(got, []string{"b", "a", "c", "d"}) {
		t.Errorf("Order = %v", got)
	}

	want := [][]string{{"b", "a"}, {"c"}, {"d"}}
	if got := g.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Levels = %v, want %v", got, want)
	}

	if got := g.Upstream("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Upstream(c) = %v", got)
	}
	if got := g.Downstream("c"); !reflect.DeepEqual(got, []string{"d"}) {
		t.Errorf("Downstream(c) = %v", got)
	}
	if g.Upstream("missing") != nil {
		t.Error("존재하지 않는 태스크의 Upstream은 nil이어야 함")
	}
	if g.Len() != 4 || len(g.Edges()) != 3 {
		t.Errorf("Len = %d, Edges = %d", g.Len(), len(g.Edges()))
	}
}

func TestGraph_TwoTaskChain(t *testing.T) {
	g, err := NewGraph(tasks("provision", "load"), []Edge{{"provision", "load"}})
	if err != nil {
		t.Fatalf("그래프 생성 실패: %v", err)
	}

	if got := g.Levels(); !reflect.DeepEqual(got, [][]string{{"provision"}, {"load"}}) {
		t.Errorf("Levels = %v", got)
	}
	if _, ok := g.Task("load"); !ok {
		t.Error("load 태스크를 찾을 수 없음")
	}
}

func TestBuildExecutionPlan(t *testing.T) {
	g, _ := NewGraph(tasks("a", "b", "c"), []Edge{{"a", "c"}, {"b", "c"}})

	plan := BuildExecutionPlan(g)
	if plan.TotalTasks != 3 {
		t.Errorf("TotalTasks = %d, want 3", plan.TotalTasks)
	}
	if len(plan.Groups) != 2 {
		t.Fatalf("Groups = %d, want 2", len(plan.Groups))
	}
	if len(plan.Groups[0].Tasks) != 2 {
		t.Errorf("group 0 = %d tasks, want 2", len(plan.Groups[0].Tasks))
	}
	deps := plan.Groups[1].Tasks[0].Dependencies
	if !reflect.DeepEqual(deps, []string{"a", "b"}) {
		t.Errorf("c dependencies = %v", deps)
	}
}
