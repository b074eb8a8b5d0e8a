package completion

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/suPer8Hu/chatkeep/internal/ai"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemJobs() *memJobs { return &memJobs{jobs: make(map[string]Job)} }

func (m *memJobs) CreateJob(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = *j
	return nil
}

func (m *memJobs) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &j, nil
}

func (m *memJobs) UpdateJob(ctx context.Context, j *Job) error {
	return m.CreateJob(ctx, j)
}

type chanQueue struct {
	ids []string
	err error
}

func (q *chanQueue) PublishJob(_ context.Context, id string) error {
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, id)
	return nil
}

type echoProvider struct {
	model string
	fail  error
}

func (p echoProvider) Chat(_ context.Context, msgs []ai.Message) (string, error) {
	if p.fail != nil {
		return "", p.fail
	}
	return p.model + ":" + msgs[len(msgs)-1].Content, nil
}

func newRegistry(fail error) *ai.Registry {
	reg := ai.NewRegistry()
	reg.Register("fake", func(_ context.Context, model string) (ai.Provider, error) {
		return echoProvider{model: model, fail: fail}, nil
	})
	return reg
}

func userMsg(s string) []ai.Message { return []ai.Message{{Role: "user", Content: s}} }

func TestComplete_DefaultsModel(t *testing.T) {
	svc := NewService(newRegistry(nil), "fake", "gpt-3.5-turbo", nil, nil, nil)
	reply, err := svc.Complete(context.Background(), " ", userMsg("hi"))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "gpt-3.5-turbo:hi" {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestComplete_RejectsBadInput(t *testing.T) {
	svc := NewService(newRegistry(nil), "fake", "m", nil, nil, nil)
	if _, err := svc.Complete(context.Background(), "m", nil); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty messages, got %v", err)
	}
	bad := []ai.Message{{Role: "robot", Content: "x"}}
	if _, err := svc.Complete(context.Background(), "m", bad); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for bad role, got %v", err)
	}
}

func TestEnqueue_DisabledWithoutQueue(t *testing.T) {
	svc := NewService(newRegistry(nil), "fake", "m", newMemJobs(), nil, nil)
	if _, err := svc.Enqueue(context.Background(), "alice", "m", userMsg("hi")); !errors.Is(err, ErrAsyncDisabled) {
		t.Fatalf("expected ErrAsyncDisabled, got %v", err)
	}
}

func TestEnqueueRunGet(t *testing.T) {
	ctx := context.Background()
	jobs, q := newMemJobs(), &chanQueue{}
	svc := NewService(newRegistry(nil), "fake", "m", jobs, q, nil)

	j, err := svc.Enqueue(ctx, "alice", "gpt-4o", userMsg("ping"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if j.Status != JobQueued || len(q.ids) != 1 || q.ids[0] != j.ID {
		t.Fatalf("job not queued: %+v %v", j, q.ids)
	}

	if err := svc.Run(ctx, j.ID, true); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := svc.GetJob(ctx, "alice", j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != JobSucceeded || got.Reply != "gpt-4o:ping" {
		t.Fatalf("unexpected job %+v", got)
	}

	// redelivery of a finished job is a no-op
	if err := svc.Run(ctx, j.ID, true); err != nil {
		t.Fatalf("rerun: %v", err)
	}

	if _, err := svc.GetJob(ctx, "bob", j.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("foreign job should look missing, got %v", err)
	}
}

func TestRun_RecordsProviderFailure(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	upstream := errors.New("upstream down")
	svc := NewService(newRegistry(upstream), "fake", "m", jobs, &chanQueue{}, nil)

	j, err := svc.Enqueue(ctx, "alice", "", userMsg("ping"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := svc.Run(ctx, j.ID, false); !errors.Is(err, upstream) {
		t.Fatalf("expected provider error, got %v", err)
	}
	got, _ := jobs.GetJob(ctx, j.ID)
	if got.Status != JobQueued || got.Error != "upstream down" {
		t.Fatalf("retryable failure should requeue, got %+v", got)
	}

	if err := svc.Run(ctx, j.ID, true); !errors.Is(err, upstream) {
		t.Fatalf("expected provider error, got %v", err)
	}
	got, _ = jobs.GetJob(ctx, j.ID)
	if got.Status != JobFailed || got.Error != "upstream down" {
		t.Fatalf("unexpected job %+v", got)
	}
}

func TestEnqueue_PublishFailureMarksJobFailed(t *testing.T) {
	ctx := context.Background()
	jobs := newMemJobs()
	svc := NewService(newRegistry(nil), "fake", "m", jobs, &chanQueue{err: errors.New("broker gone")}, nil)

	if _, err := svc.Enqueue(ctx, "alice", "", userMsg("ping")); err == nil {
		t.Fatalf("expected publish error")
	}
	for _, j := range jobs.jobs {
		if j.Status != JobFailed {
			t.Fatalf("expected failed job, got %+v", j)
		}
	}
}
