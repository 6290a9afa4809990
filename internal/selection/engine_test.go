package selection

import (
	"errors"
	"math"
	"testing"

	"github.com/me/orchestra/internal/config"
	"github.com/me/orchestra/internal/registry"
	"github.com/me/orchestra/pkg/model"
)

type staticGate bool

func (g staticGate) Healthy() bool { return bool(g) }

func newEngine(t *testing.T, gate HealthGate, resources ...model.Resource) *Engine {
	t.Helper()
	reg := registry.New(nil)
	for _, r := range resources {
		if r.Name == "" {
			t.Fatal("resource without name")
		}
		if err := reg.Register(r); err != nil {
			t.Fatalf("Register(%s): %v", r.Name, err)
		}
	}
	return NewEngine(reg, gate, config.DefaultAffinity(), nil)
}

func res(name string, size, count, errs int, avg float64) model.Resource {
	return model.Resource{
		Name:      name,
		Available: true,
		SizeHint:  size,
		Performance: model.PerformanceProfile{
			ResponseCount:         count,
			ErrorCount:            errs,
			AverageResponseTimeMs: avg,
		},
	}
}

func TestSelect_NoCandidates(t *testing.T) {
	e := newEngine(t, nil)
	_, _, err := e.Select(model.Task{TaskType: "chat"})
	if !errors.Is(err, model.ErrNoResourceAvailable) {
		t.Fatalf("err = %v, want ErrNoResourceAvailable", err)
	}

	unavailable := res("llama3", 1, 0, 0, 0)
	unavailable.Available = false
	loading := res("mistral", 1, 0, 0, 0)
	loading.Loading = true
	e = newEngine(t, nil, unavailable, loading)
	if _, _, err := e.Select(model.Task{TaskType: "chat"}); !errors.Is(err, model.ErrNoResourceAvailable) {
		t.Fatalf("err = %v, want ErrNoResourceAvailable", err)
	}
}

func TestSelect_AffinityOverridesScore(t *testing.T) {
	// mistral-small has a far better profile; code affinity still wins.
	e := newEngine(t, nil,
		res("mistral-small", 1, 100, 0, 10),
		res("codellama-7b", 7, 10, 9, 5000),
	)
	got, reason, err := e.Select(model.Task{TaskType: "code", PriorityHint: model.PrioritySpeed})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "codellama-7b" || reason != ReasonAffinity {
		t.Errorf("Select = %s (%s), want codellama-7b (affinity)", got.Name, reason)
	}
}

func TestSelect_AffinityPatternOrder(t *testing.T) {
	// "codellama" is tried before "deepseek" regardless of candidate order.
	e := newEngine(t, nil,
		res("deepseek-coder", 1, 0, 0, 0),
		res("codellama-13b", 1, 0, 0, 0),
	)
	got, _, _ := e.Select(model.Task{TaskType: "code"})
	if got.Name != "codellama-13b" {
		t.Errorf("Select = %s, want codellama-13b", got.Name)
	}

	// For one pattern, the first candidate in registry order wins.
	e = newEngine(t, nil,
		res("llama3-70b", 70, 0, 0, 0),
		res("llama3-8b", 8, 0, 0, 0),
	)
	got, _, _ = e.Select(model.Task{TaskType: "chat"})
	if got.Name != "llama3-70b" {
		t.Errorf("Select = %s, want llama3-70b", got.Name)
	}
}

func TestSelect_Size(t *testing.T) {
	e := newEngine(t, nil,
		res("phi", 3, 0, 0, 0),
		res("tiny-a", 1, 0, 0, 0),
		res("tiny-b", 1, 0, 0, 0),
		res("big", 70, 0, 0, 0),
	)
	got, reason, _ := e.Select(model.Task{TaskType: "fast"})
	if got.Name != "tiny-a" || reason != ReasonSizeFast {
		t.Errorf("fast = %s (%s), want tiny-a (size_fast)", got.Name, reason)
	}
	got, reason, _ = e.Select(model.Task{TaskType: "quality"})
	if got.Name != "big" || reason != ReasonSizeQuality {
		t.Errorf("quality = %s (%s), want big (size_quality)", got.Name, reason)
	}
}

func TestSelect_PriorityHints(t *testing.T) {
	e := newEngine(t, nil,
		res("unused", 1, 0, 0, 0),
		res("steady", 1, 10, 0, 400),
		res("quick", 1, 10, 5, 50),
	)

	got, reason, _ := e.Select(model.Task{TaskType: "scrape", PriorityHint: model.PrioritySpeed})
	if got.Name != "quick" || reason != ReasonSpeed {
		t.Errorf("speed = %s (%s), want quick", got.Name, reason)
	}
	got, reason, _ = e.Select(model.Task{TaskType: "scrape", PriorityHint: model.PriorityReliability})
	if got.Name != "steady" || reason != ReasonReliability {
		t.Errorf("reliability = %s (%s), want steady", got.Name, reason)
	}
}

func TestSelect_SpeedWithoutMeasurements(t *testing.T) {
	e := newEngine(t, nil, res("a", 1, 0, 0, 0), res("b", 1, 0, 0, 0))
	got, _, _ := e.Select(model.Task{TaskType: "sync", PriorityHint: model.PrioritySpeed})
	if got.Name != "a" {
		t.Errorf("Select = %s, want first candidate a", got.Name)
	}
}

func TestSelect_BlendedScore(t *testing.T) {
	a := res("A", 1, 10, 0, 200)
	b := res("B", 1, 10, 5, 50)

	scoreA := 0.7*1.0 + 0.3*(1000.0/200)
	scoreB := 0.7*0.5 + 0.3*(1000.0/50)
	if math.Abs(Score(a.Performance)-scoreA) > 1e-9 || math.Abs(scoreA-2.2) > 1e-9 {
		t.Errorf("score(A) = %v, want %v", Score(a.Performance), scoreA)
	}
	if math.Abs(Score(b.Performance)-scoreB) > 1e-9 || math.Abs(scoreB-6.35) > 1e-9 {
		t.Errorf("score(B) = %v, want %v", Score(b.Performance), scoreB)
	}

	e := newEngine(t, nil, a, b)
	got, reason, err := e.Select(model.Task{TaskType: "scrape", PriorityHint: model.PriorityBalanced})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "B" || reason != ReasonScore {
		t.Errorf("Select = %s (%s), want B (score)", got.Name, reason)
	}
}

func TestSelect_ScoreTiesKeepOrder(t *testing.T) {
	e := newEngine(t, nil, res("first", 1, 0, 0, 0), res("second", 1, 0, 0, 0))
	got, _, _ := e.Select(model.Task{TaskType: "scrape"})
	if got.Name != "first" {
		t.Errorf("Select = %s, want first", got.Name)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	e := newEngine(t, nil,
		res("x", 1, 4, 1, 120),
		res("y", 1, 4, 1, 120),
		res("z", 1, 8, 2, 90),
	)
	task := model.Task{TaskType: "general", PriorityHint: model.PriorityBalanced}
	first, _, _ := e.Select(task)
	for i := 0; i < 10; i++ {
		again, _, _ := e.Select(task)
		if again.Name != first.Name {
			t.Fatalf("selection changed: %s then %s", first.Name, again.Name)
		}
	}
}

func TestSelect_FailClosedWhenUnhealthy(t *testing.T) {
	pinned := res("scraper", 1, 0, 0, 0)
	pinned.Pinned = true
	e := newEngine(t, staticGate(false), res("llama3", 8, 10, 0, 10), pinned)

	got, _, err := e.Select(model.Task{TaskType: "chat"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "scraper" {
		t.Errorf("Select = %s, want pinned scraper", got.Name)
	}

	e = newEngine(t, staticGate(false), res("llama3", 8, 10, 0, 10))
	if _, _, err := e.Select(model.Task{TaskType: "chat"}); !errors.Is(err, model.ErrNoResourceAvailable) {
		t.Errorf("err = %v, want ErrNoResourceAvailable", err)
	}

	e = newEngine(t, staticGate(true), res("llama3", 8, 10, 0, 10))
	if _, _, err := e.Select(model.Task{TaskType: "chat"}); err != nil {
		t.Errorf("healthy pool: %v", err)
	}
}

func TestAffinityStrategy_CaseInsensitive(t *testing.T) {
	s := NewAffinityStrategy(map[string][]string{"Code": {"CodeLlama"}})
	req := &Request{
		Task:       model.Task{TaskType: "code"},
		Candidates: []model.Resource{{Name: "codellama:7b"}},
	}
	got, reason := s.Select(req)
	if got == nil || got.Name != "codellama:7b" || reason != ReasonAffinity {
		t.Errorf("Select = %v, %q", got, reason)
	}
	if cats := s.Categories(); len(cats) != 1 || cats[0] != "code" {
		t.Errorf("Categories = %v", cats)
	}
}

func TestChain_NoMatch(t *testing.T) {
	c := NewChain(NewAffinityStrategy(nil))
	got, reason := c.Select(&Request{Task: model.Task{TaskType: "chat"}, Candidates: []model.Resource{{Name: "x"}}})
	if got != nil || reason != "no_strategy_matched" {
		t.Errorf("Select = %v, %q", got, reason)
	}
	if len(DefaultChain(nil).Strategies()) != 4 {
		t.Error("default chain should have 4 strategies")
	}
}
