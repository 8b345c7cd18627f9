package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskState is the lifecycle state of one dispatched task.
type TaskState string

const (
	TaskPending TaskState = "pending"
	TaskRunning TaskState = "running"
	TaskSuccess TaskState = "success"
	TaskFailed  TaskState = "failed"
)

// TaskRecord is the poll-able outcome of one task.
type TaskRecord struct {
	ID       string      `json:"task_id"`
	State    TaskState   `json:"state"`
	Result   interface{} `json:"result,omitempty"`
	Error    string      `json:"error,omitempty"`
	Created  time.Time   `json:"created"`
	Finished time.Time   `json:"finished,omitempty"`
}

// TaskStore is the in-memory task-result backend for the polling API.
// The original system delegates this to its task queue's result
// backend; an in-process map suffices for a single-binary deployment.
type TaskStore struct {
	mu      sync.Mutex
	records map[string]*TaskRecord
	waiters map[string][]chan struct{}
}

func NewTaskStore() *TaskStore {
	return &TaskStore{
		records: make(map[string]*TaskRecord),
		waiters: make(map[string][]chan struct{}),
	}
}

// Create registers a new pending task and returns its id.
func (s *TaskStore) Create() string {
	id := uuid.NewString()
	s.mu.Lock()
	s.records[id] = &TaskRecord{ID: id, State: TaskPending, Created: time.Now()}
	s.mu.Unlock()
	return id
}

// MarkRunning transitions a task to running.
func (s *TaskStore) MarkRunning(id string) {
	s.mu.Lock()
	if rec, ok := s.records[id]; ok {
		rec.State = TaskRunning
	}
	s.mu.Unlock()
}

// Finish records a task's terminal state and wakes any blocked
// full-result waiters.
func (s *TaskStore) Finish(id string, result interface{}, err error) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.Finished = time.Now()
		if err != nil {
			rec.State = TaskFailed
			rec.Error = err.Error()
			rec.Result = result
		} else {
			rec.State = TaskSuccess
			rec.Result = result
		}
	}
	waiters := s.waiters[id]
	delete(s.waiters, id)
	s.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}

// Get returns a snapshot of the task record, if known.
func (s *TaskStore) Get(id string) (TaskRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return TaskRecord{}, false
	}
	return *rec, true
}

// Wait blocks until the task reaches a terminal state, the timeout
// elapses, or ctx is cancelled. It returns the final snapshot and
// whether the task completed within the window.
func (s *TaskStore) Wait(ctx context.Context, id string, timeout time.Duration) (TaskRecord, bool) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return TaskRecord{}, false
	}
	if rec.State == TaskSuccess || rec.State == TaskFailed {
		snapshot := *rec
		s.mu.Unlock()
		return snapshot, true
	}
	done := make(chan struct{})
	s.waiters[id] = append(s.waiters[id], done)
	s.mu.Unlock()

	select {
	case <-done:
		snapshot, _ := s.Get(id)
		return snapshot, true
	case <-time.After(timeout):
		snapshot, _ := s.Get(id)
		return snapshot, false
	case <-ctx.Done():
		snapshot, _ := s.Get(id)
		return snapshot, false
	}
}
