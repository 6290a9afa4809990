package registry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/me/orchestra/pkg/model"
)

func newTestRegistry(t *testing.T, names ...string) *Registry {
	t.Helper()
	r := New(nil)
	for _, n := range names {
		if err := r.Register(model.Resource{Name: n, Available: true}); err != nil {
			t.Fatalf("Register(%s): %v", n, err)
		}
	}
	return r
}

func TestRegister_Duplicate(t *testing.T) {
	r := newTestRegistry(t, "llama3")
	err := r.Register(model.Resource{Name: "llama3"})
	if !errors.Is(err, model.ErrDuplicateResource) {
		t.Fatalf("err = %v, want ErrDuplicateResource", err)
	}
}

func TestRegister_LoadingIsUnavailable(t *testing.T) {
	r := New(nil)
	if err := r.Register(model.Resource{Name: "qwen", Available: true, Loading: true}); err != nil {
		t.Fatal(err)
	}
	res, _ := r.Get("qwen")
	if res.Available {
		t.Error("loading resource registered as available")
	}
	if len(r.List()) != 0 {
		t.Error("loading resource listed")
	}
}

func TestList_StableOrderAndFilter(t *testing.T) {
	r := New(nil)
	for _, res := range []model.Resource{
		{Name: "c", Available: true, CapabilityTags: []string{"chat"}},
		{Name: "a", Available: true, CapabilityTags: []string{"code", "chat"}},
		{Name: "b", Available: false},
	} {
		if err := r.Register(res); err != nil {
			t.Fatal(err)
		}
	}

	for i := 0; i < 3; i++ {
		got := r.List()
		if len(got) != 2 || got[0].Name != "c" || got[1].Name != "a" {
			t.Fatalf("List() = %v, want [c a]", names(got))
		}
	}
	if got := r.List("code"); len(got) != 1 || got[0].Name != "a" {
		t.Errorf("List(code) = %v, want [a]", names(got))
	}
	if got := r.All(); len(got) != 3 {
		t.Errorf("All() len = %d, want 3", len(got))
	}
}

func TestMarkTransitions(t *testing.T) {
	r := newTestRegistry(t, "mistral")

	// Idempotent.
	for i := 0; i < 2; i++ {
		if err := r.MarkLoading("mistral"); err != nil {
			t.Fatal(err)
		}
	}
	res, _ := r.Get("mistral")
	if res.Available || !res.Loading {
		t.Errorf("after MarkLoading: %+v", res)
	}

	_ = r.MarkAvailable("mistral")
	_ = r.MarkAvailable("mistral")
	res, _ = r.Get("mistral")
	if !res.Available || res.Loading {
		t.Errorf("after MarkAvailable: %+v", res)
	}

	_ = r.MarkUnavailable("mistral")
	if len(r.List()) != 0 {
		t.Error("unavailable resource listed")
	}

	if err := r.MarkAvailable("missing"); !errors.Is(err, model.ErrResourceNotFound) {
		t.Errorf("err = %v, want ErrResourceNotFound", err)
	}
}

func TestMarkError_KeepsAverage(t *testing.T) {
	r := newTestRegistry(t, "llama3")
	_ = r.RecordOutcome("llama3", 100, true, time.Now())
	_ = r.MarkError("llama3")

	res, _ := r.Get("llama3")
	if res.Performance.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", res.Performance.ErrorCount)
	}
	if res.Performance.ResponseCount != 1 {
		t.Errorf("ResponseCount = %d, want 1", res.Performance.ResponseCount)
	}
	if res.Performance.AverageResponseTimeMs != 100 {
		t.Errorf("avg = %v, want 100", res.Performance.AverageResponseTimeMs)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	r := New(nil)
	_ = r.Register(model.Resource{Name: "x", Available: true, CapabilityTags: []string{"chat"}})
	res, _ := r.Get("x")
	res.CapabilityTags[0] = "code"
	res.Available = false

	again, _ := r.Get("x")
	if again.CapabilityTags[0] != "chat" || !again.Available {
		t.Errorf("registry state leaked through copy: %+v", again)
	}
}

func TestRecordOutcome_Concurrent(t *testing.T) {
	r := newTestRegistry(t, "llama3")
	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.RecordOutcome("llama3", 10, i%4 != 0, time.Now())
		}(i)
	}
	wg.Wait()

	res, _ := r.Get("llama3")
	if res.Performance.ResponseCount != n {
		t.Errorf("ResponseCount = %d, want %d", res.Performance.ResponseCount, n)
	}
	if res.Performance.ErrorCount != n/4 {
		t.Errorf("ErrorCount = %d, want %d", res.Performance.ErrorCount, n/4)
	}
}

func names(rs []model.Resource) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Name
	}
	return out
}
