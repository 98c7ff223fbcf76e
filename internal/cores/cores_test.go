package cores

import (
	"testing"

	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

func TestBindUnbind(t *testing.T) {
	reg := registry.New()
	tab := New(3, 0)
	a := reg.Create(1, "a")
	b := reg.Create(1, "b")

	if prev := tab.Bind(1, a); prev != nil {
		t.Errorf("Bind on idle core returned %v", prev.ID)
	}
	if a.Core != 1 || tab.Bound(1) != a {
		t.Errorf("a.Core = %d, Bound(1) = %v", a.Core, tab.Bound(1))
	}
	if prev := tab.Bind(1, b); prev != a {
		t.Errorf("Bind returned %v, want a", prev)
	}
	if a.Core != model.NoCore {
		t.Errorf("displaced task core = %d, want NoCore", a.Core)
	}
	if got := tab.Unbind(1); got != b || b.Core != model.NoCore {
		t.Errorf("Unbind = %v, b.Core = %d", got, b.Core)
	}
	if tab.Unbind(2) != nil {
		t.Error("Unbind of idle core should return nil")
	}
}

func TestFirstFree(t *testing.T) {
	reg := registry.New()
	tab := New(2, 0)
	if c, ok := tab.FirstFree(); !ok || c != 0 {
		t.Errorf("FirstFree = %d, %v", c, ok)
	}
	tab.Bind(0, reg.Create(1, ""))
	if c, ok := tab.FirstFree(); !ok || c != 1 {
		t.Errorf("FirstFree = %d, %v", c, ok)
	}
	tab.Bind(1, reg.Create(1, ""))
	if _, ok := tab.FirstFree(); ok {
		t.Error("FirstFree on full table should report false")
	}
}

func TestCoresAt(t *testing.T) {
	reg := registry.New()
	tab := New(4, 0)
	tab.Bind(0, reg.Create(2, ""))
	tab.Bind(1, reg.Create(1, ""))
	tab.Bind(2, reg.Create(2, ""))
	tab.Bind(3, reg.Create(2, ""))

	got := tab.CoresAt(2, false)
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 3 {
		t.Errorf("CoresAt(2, false) = %v", got)
	}
	got = tab.CoresAt(2, true)
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("CoresAt(2, true) = %v", got)
	}
	if got := tab.CoresAt(5, true); len(got) != 0 {
		t.Errorf("CoresAt(5) = %v", got)
	}
}

func TestPreemptionTarget(t *testing.T) {
	reg := registry.New()
	tab := New(4, 0)
	tab.Bind(0, reg.Create(2, ""))
	tab.Bind(1, reg.Create(1, ""))
	tab.Bind(2, reg.Create(1, ""))
	tab.Bind(3, reg.Create(3, ""))

	tests := []struct {
		limit     int
		inclusive bool
		want      int
		ok        bool
	}{
		{limit: 1, inclusive: false, ok: false},
		{limit: 1, inclusive: true, want: 2, ok: true},
		{limit: 2, inclusive: false, want: 2, ok: true},
		{limit: 5, inclusive: false, want: 2, ok: true},
		{limit: 0, inclusive: true, ok: false},
	}
	for _, tt := range tests {
		got, ok := tab.PreemptionTarget(tt.limit, tt.inclusive)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("PreemptionTarget(%d, %v) = %d, %v, want %d, %v", tt.limit, tt.inclusive, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPreemptionTarget_EqualPrioritiesPickHighestIndex(t *testing.T) {
	reg := registry.New()
	tab := New(4, 0)
	for c := 0; c < 4; c++ {
		tab.Bind(c, reg.Create(2, ""))
	}
	if c, ok := tab.PreemptionTarget(2, true); !ok || c != 3 {
		t.Errorf("PreemptionTarget = %d, %v, want 3", c, ok)
	}
}

func TestLowestRunningAndViews(t *testing.T) {
	reg := registry.New()
	tab := New(3, 1)
	if _, ok := tab.LowestRunning(); ok {
		t.Error("LowestRunning on idle table should report false")
	}
	tab.Bind(0, reg.Create(4, ""))
	tab.Bind(2, reg.Create(2, ""))
	if p, ok := tab.LowestRunning(); !ok || p != 2 {
		t.Errorf("LowestRunning = %d, %v", p, ok)
	}

	views := tab.Views()
	if !views[1].Idle() || !views[1].Accounting {
		t.Errorf("core 1 view = %+v", views[1])
	}
	if views[2].Task != 1 || views[2].Priority != 2 {
		t.Errorf("core 2 view = %+v", views[2])
	}
}
