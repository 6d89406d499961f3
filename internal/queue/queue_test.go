package queue

import "testing"

func TestPureFIFOOrdering(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "a"}, 0)
	q.Put(&Task{TaskID: "b"}, 5)
	q.Put(&Task{TaskID: "c"}, 10)

	for _, want := range []string{"a", "b", "c"} {
		got := q.Get(PureFIFO)
		if got == nil || got.TaskID != want {
			t.Fatalf("expected %s, got %+v", want, got)
		}
	}
	if q.Get(PureFIFO) != nil {
		t.Fatal("expected empty queue")
	}
}

func TestStrictPriorityOrdering(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "low"}, 0)
	q.Put(&Task{TaskID: "high"}, 5)

	got := q.Get(StrictPriority)
	if got.TaskID != "high" {
		t.Fatalf("expected high priority task first, got %s", got.TaskID)
	}
	got = q.Get(StrictPriority)
	if got.TaskID != "low" {
		t.Fatalf("expected low priority task second, got %s", got.TaskID)
	}
}

func TestStrictPriorityTieBreaksByArrival(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "first"}, 5)
	q.Put(&Task{TaskID: "second"}, 5)

	got := q.Get(StrictPriority)
	if got.TaskID != "first" {
		t.Fatalf("expected FIFO tiebreak, got %s", got.TaskID)
	}
}

func TestTwoLevelPrefersPositivePriority(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "free"}, 0)
	q.Put(&Task{TaskID: "credited"}, 3)

	got := q.Get(TwoLevel)
	if got.TaskID != "credited" {
		t.Fatalf("expected credited task first under two-level, got %s", got.TaskID)
	}
	got = q.Get(TwoLevel)
	if got.TaskID != "free" {
		t.Fatalf("expected free-tier task second, got %s", got.TaskID)
	}
}

func TestTwoLevelFallsBackToFIFOAmongFreeTier(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "free-1"}, 0)
	q.Put(&Task{TaskID: "free-2"}, 0)

	got := q.Get(TwoLevel)
	if got.TaskID != "free-1" {
		t.Fatalf("expected arrival order among free-tier tasks, got %s", got.TaskID)
	}
}

func TestRemoveByID(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "a"}, 0)
	q.Put(&Task{TaskID: "b"}, 0)

	if !q.Remove("a") {
		t.Fatal("expected removal of existing task to report true")
	}
	if q.Remove("a") {
		t.Fatal("expected second removal to be a no-op")
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining task, got %d", q.Len())
	}
	remaining := q.Get(PureFIFO)
	if remaining.TaskID != "b" {
		t.Fatalf("expected b to remain, got %s", remaining.TaskID)
	}
}

func TestPriorityPreemptionScenario(t *testing.T) {
	q := New()
	q.Put(&Task{TaskID: "t0"}, 0)
	q.Put(&Task{TaskID: "t1"}, 5)

	if got := q.Get(StrictPriority); got.TaskID != "t1" {
		t.Fatalf("strict priority should return t1, got %s", got.TaskID)
	}

	q2 := New()
	q2.Put(&Task{TaskID: "t0"}, 0)
	q2.Put(&Task{TaskID: "t1"}, 5)
	if got := q2.Get(PureFIFO); got.TaskID != "t0" {
		t.Fatalf("pure fifo should return t0, got %s", got.TaskID)
	}
}
