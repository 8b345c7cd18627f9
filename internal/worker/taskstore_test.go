package worker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTaskStore_Lifecycle(t *testing.T) {
	s := NewTaskStore()
	id := s.Create()

	rec, ok := s.Get(id)
	if !ok || rec.State != TaskPending {
		t.Fatalf("new task = %+v", rec)
	}

	s.MarkRunning(id)
	rec, _ = s.Get(id)
	if rec.State != TaskRunning {
		t.Errorf("state = %s, want running", rec.State)
	}

	s.Finish(id, map[string]int{"rows": 3}, nil)
	rec, _ = s.Get(id)
	if rec.State != TaskSuccess {
		t.Errorf("state = %s, want success", rec.State)
	}
	if rec.Result == nil {
		t.Error("result lost")
	}
}

func TestTaskStore_FinishWithError(t *testing.T) {
	s := NewTaskStore()
	id := s.Create()
	s.Finish(id, nil, errors.New("boom"))

	rec, _ := s.Get(id)
	if rec.State != TaskFailed || rec.Error != "boom" {
		t.Fatalf("rec = %+v", rec)
	}
}

func TestTaskStore_UnknownTask(t *testing.T) {
	s := NewTaskStore()
	if _, ok := s.Get("nope"); ok {
		t.Fatal("unknown id resolved")
	}
	if _, done := s.Wait(context.Background(), "nope", time.Millisecond); done {
		t.Fatal("wait on unknown id reported done")
	}
}

func TestTaskStore_WaitBlocksUntilFinish(t *testing.T) {
	s := NewTaskStore()
	id := s.Create()

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Finish(id, "done", nil)
	}()

	rec, done := s.Wait(context.Background(), id, time.Second)
	if !done {
		t.Fatal("wait timed out despite finish")
	}
	if rec.State != TaskSuccess {
		t.Errorf("state = %s", rec.State)
	}
}

func TestTaskStore_WaitTimesOut(t *testing.T) {
	s := NewTaskStore()
	id := s.Create()

	rec, done := s.Wait(context.Background(), id, 10*time.Millisecond)
	if done {
		t.Fatal("wait reported completion for a pending task")
	}
	if rec.State != TaskPending {
		t.Errorf("state = %s", rec.State)
	}
}

func TestTaskStore_WaitImmediateWhenAlreadyDone(t *testing.T) {
	s := NewTaskStore()
	id := s.Create()
	s.Finish(id, nil, nil)

	start := time.Now()
	_, done := s.Wait(context.Background(), id, time.Second)
	if !done {
		t.Fatal("expected immediate completion")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("wait blocked on an already-finished task")
	}
}

func TestQueue_ExecutesTasks(t *testing.T) {
	store := NewTaskStore()
	q := NewQueue("test", 2, time.Second, 5*time.Second, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id := store.Create()
	err := q.Enqueue(ctx, &Task{
		ID:   id,
		Name: "unit",
		Run: func(context.Context) (interface{}, error) {
			return 42, nil
		},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	rec, done := store.Wait(ctx, id, time.Second)
	if !done || rec.State != TaskSuccess {
		t.Fatalf("task did not complete: %+v", rec)
	}
}

func TestQueue_PanicBecomesFailure(t *testing.T) {
	store := NewTaskStore()
	q := NewQueue("test", 1, time.Second, 5*time.Second, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	id := store.Create()
	_ = q.Enqueue(ctx, &Task{
		ID:   id,
		Name: "panicky",
		Run: func(context.Context) (interface{}, error) {
			panic("kaboom")
		},
	})

	rec, done := store.Wait(ctx, id, time.Second)
	if !done || rec.State != TaskFailed {
		t.Fatalf("panic not converted to failure: %+v", rec)
	}
}
