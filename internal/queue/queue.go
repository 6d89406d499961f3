package queue

import "sync"

// Mode selects the extraction policy used by Get. The dispatcher picks a
// mode per fetch call based on recent fetch cadence (see internal/dispatch).
type Mode int

const (
	// PureFIFO returns the task with the smallest ArrivalSeq.
	PureFIFO Mode = iota
	// TwoLevel returns any Priority>0 task (smallest ArrivalSeq among them)
	// before falling back to the smallest ArrivalSeq overall.
	TwoLevel
	// StrictPriority returns the task with the largest Priority, ties
	// broken by smallest ArrivalSeq.
	StrictPriority
)

func (m Mode) String() string {
	switch m {
	case PureFIFO:
		return "pure_fifo"
	case TwoLevel:
		return "two_level"
	case StrictPriority:
		return "strict_priority"
	default:
		return "unknown"
	}
}

// TaskQueue is an ordered, thread-safe multiset of in-flight tasks keyed by
// (priority, arrival_seq). Unlike a container/heap-backed queue (which bakes
// a single ordering into the data structure), Get's ordering is selected per
// call, so a plain mutex-guarded slice with a full scan on Get/Remove is used
// instead — contention is low (one op per HTTP request) and N stays small,
// matching the scan-based custom queue this dispatcher descends from.
type TaskQueue struct {
	mu    sync.Mutex
	tasks []*Task
	seq   uint64
}

// New creates an empty TaskQueue.
func New() *TaskQueue {
	return &TaskQueue{}
}

// Put enqueues task at the given priority, stamping it with the next
// arrival sequence number.
func (q *TaskQueue) Put(task *Task, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	task.Priority = priority
	task.ArrivalSeq = q.seq
	q.seq++
	q.tasks = append(q.tasks, task)
}

// Get selects and removes one task according to mode. Returns nil if the
// queue is empty.
func (q *TaskQueue) Get(mode Mode) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}

	idx := q.selectIndex(mode)
	task := q.tasks[idx]
	q.tasks = append(q.tasks[:idx], q.tasks[idx+1:]...)
	return task
}

func (q *TaskQueue) selectIndex(mode Mode) int {
	best := 0
	switch mode {
	case PureFIFO:
		for i, t := range q.tasks {
			if t.ArrivalSeq < q.tasks[best].ArrivalSeq {
				best = i
			}
		}
	case TwoLevel:
		// Prefer any priority>0 task, smallest arrival_seq among those;
		// otherwise fall back to smallest arrival_seq overall.
		foundPositive := false
		for i, t := range q.tasks {
			if t.Priority > 0 {
				if !foundPositive || t.ArrivalSeq < q.tasks[best].ArrivalSeq {
					best = i
					foundPositive = true
				}
			} else if !foundPositive && t.ArrivalSeq < q.tasks[best].ArrivalSeq {
				best = i
			}
		}
	case StrictPriority:
		for i, t := range q.tasks {
			b := q.tasks[best]
			if t.Priority > b.Priority || (t.Priority == b.Priority && t.ArrivalSeq < b.ArrivalSeq) {
				best = i
			}
		}
	default:
		for i, t := range q.tasks {
			if t.ArrivalSeq < q.tasks[best].ArrivalSeq {
				best = i
			}
		}
	}
	return best
}

// Remove deletes the task with the given id if present. No-op otherwise.
// Returns true if a task was removed.
func (q *TaskQueue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t.TaskID == taskID {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the current queue depth.
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Peek returns the oldest task by arrival without removing it, or nil if
// empty. Used for queue-age metrics.
func (q *TaskQueue) Peek() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return nil
	}
	oldest := q.tasks[0]
	for _, t := range q.tasks[1:] {
		if t.ArrivalSeq < oldest.ArrivalSeq {
			oldest = t
		}
	}
	return oldest
}
