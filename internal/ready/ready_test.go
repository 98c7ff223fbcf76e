package ready

import (
	"testing"

	"github.com/me/smpsched/internal/registry"
	"github.com/me/smpsched/pkg/model"
)

func ids(ts []*registry.Task) []model.TaskID {
	out := make([]model.TaskID, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

func equalIDs(a, b []model.TaskID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPushPop_FIFO(t *testing.T) {
	reg := registry.New()
	s := New(0, 3)
	a := reg.Create(2, "a")
	b := reg.Create(2, "b")
	c := reg.Create(2, "c")
	s.PushBack(a)
	s.PushBack(b)
	s.PushBack(c)

	if got := ids(s.Tasks(2)); !equalIDs(got, []model.TaskID{0, 1, 2}) {
		t.Errorf("ring = %v", got)
	}
	if s.Front(2) != a {
		t.Errorf("Front = %v, want a", s.Front(2).ID)
	}
	if got := s.PopFront(2); got != a {
		t.Errorf("PopFront = %d, want a", got.ID)
	}
	if s.Len(2) != 2 || s.Total() != 2 {
		t.Errorf("Len = %d, Total = %d", s.Len(2), s.Total())
	}
	if s.PopFront(1) != nil {
		t.Error("PopFront on empty ring should be nil")
	}
}

func TestPushBack_OlderSequenceStillQueuesLast(t *testing.T) {
	reg := registry.New()
	s := New(0, 3)
	first := reg.Create(1, "first")
	second := reg.Create(1, "second")
	waiter := reg.Create(1, "waiter")

	s.PushBack(waiter)
	s.PushBackAmong(second, 0)
	if got := ids(s.Tasks(1)); !equalIDs(got, []model.TaskID{waiter.ID, second.ID}) {
		t.Errorf("ring = %v, want waiter first", got)
	}

	// Among the last n, sequence decides.
	s.PushBackAmong(first, 1)
	if got := ids(s.Tasks(1)); !equalIDs(got, []model.TaskID{waiter.ID, first.ID, second.ID}) {
		t.Errorf("ring = %v, want first ahead of second", got)
	}

	// n larger than the ring never reaches past its front.
	late := reg.Create(1, "late")
	s.PopFront(1)
	s.PushBackAmong(late, 10)
	if got := ids(s.Tasks(1)); !equalIDs(got, []model.TaskID{first.ID, second.ID, late.ID}) {
		t.Errorf("ring = %v", got)
	}
}

func TestRemoveAndContains(t *testing.T) {
	reg := registry.New()
	s := New(0, 3)
	a := reg.Create(3, "a")
	b := reg.Create(3, "b")
	s.PushBack(a)
	s.PushBack(b)

	if !s.Contains(a) {
		t.Error("Contains(a) = false")
	}
	if !s.Remove(a) {
		t.Error("Remove(a) = false")
	}
	if s.Contains(a) || s.Remove(a) {
		t.Error("a still present after Remove")
	}
	if s.Front(3) != b || s.Total() != 1 {
		t.Errorf("Front = %v, Total = %d", s.Front(3), s.Total())
	}
}

func TestHighestAndEach(t *testing.T) {
	reg := registry.New()
	s := New(1, 5)
	if _, ok := s.Highest(); ok {
		t.Error("Highest on empty structure should report false")
	}
	lo := reg.Create(1, "lo")
	hi := reg.Create(4, "hi")
	hi2 := reg.Create(4, "hi2")
	s.PushBack(lo)
	s.PushBack(hi)
	s.PushBack(hi2)

	if p, ok := s.Highest(); !ok || p != 4 {
		t.Errorf("Highest = %d, %v, want 4", p, ok)
	}

	var order []model.TaskID
	s.Each(func(t *registry.Task) { order = append(order, t.ID) })
	if !equalIDs(order, []model.TaskID{hi.ID, hi2.ID, lo.ID}) {
		t.Errorf("Each order = %v", order)
	}

	// Out-of-range queries are empty rather than panicking.
	if s.Len(0) != 0 || s.Len(9) != 0 || s.Front(9) != nil {
		t.Error("out-of-range priority should be empty")
	}
}
