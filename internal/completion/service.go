package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chatkeep/internal/ai"
	"github.com/suPer8Hu/chatkeep/internal/common"
	"github.com/suPer8Hu/chatkeep/internal/logger"
	"github.com/suPer8Hu/chatkeep/internal/metrics"
)

var (
	ErrInvalidRequest = errors.New("completion: invalid request")
	ErrJobNotFound    = errors.New("completion: job not found")
	ErrAsyncDisabled  = errors.New("completion: async jobs are not configured")
)

type JobStore interface {
	CreateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
}

type Publisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Service struct {
	registry     *ai.Registry
	provider     string
	defaultModel string
	jobs         JobStore
	queue        Publisher
	log          *logger.Logger
}

// NewService wires completions. jobs and queue may be nil, which disables Enqueue.
func NewService(registry *ai.Registry, provider, defaultModel string, jobs JobStore, queue Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		registry:     registry,
		provider:     provider,
		defaultModel: defaultModel,
		jobs:         jobs,
		queue:        queue,
		log:          log.With("component", "completion"),
	}
}

func (s *Service) AsyncEnabled() bool { return s.jobs != nil && s.queue != nil }

// Complete calls the configured provider synchronously.
func (s *Service) Complete(ctx context.Context, model string, messages []ai.Message) (string, error) {
	model, err := s.check(model, messages)
	if err != nil {
		return "", err
	}
	return s.call(ctx, "sync", model, messages)
}

// Enqueue records a job and hands its id to the worker queue.
func (s *Service) Enqueue(ctx context.Context, owner, model string, messages []ai.Message) (*Job, error) {
	if !s.AsyncEnabled() {
		return nil, ErrAsyncDisabled
	}
	model, err := s.check(model, messages)
	if err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	j := &Job{
		ID:        id,
		Owner:     owner,
		Model:     model,
		Messages:  messages,
		Status:    JobQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.PublishJob(ctx, j.ID); err != nil {
		j.Status = JobFailed
		j.Error = "enqueue failed"
		j.UpdatedAt = time.Now().UTC()
		_ = s.jobs.UpdateJob(ctx, j)
		return nil, fmt.Errorf("publish job: %w", err)
	}
	return j, nil
}

// GetJob hides jobs of other owners behind ErrJobNotFound.
func (s *Service) GetJob(ctx context.Context, owner, id string) (*Job, error) {
	if s.jobs == nil {
		return nil, ErrAsyncDisabled
	}
	j, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if j.Owner != owner {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// Run executes one queued job. A job already finished is left alone so
// redeliveries are harmless. When lastAttempt is false a provider failure puts
// the job back to queued, keeping the error, so the caller can retry it.
func (s *Service) Run(ctx context.Context, jobID string, lastAttempt bool) error {
	if s.jobs == nil {
		return ErrAsyncDisabled
	}
	j, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Done() {
		return nil
	}

	j.Status = JobRunning
	j.UpdatedAt = time.Now().UTC()
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		return err
	}

	reply, callErr := s.call(ctx, "async", j.Model, j.Messages)
	j.UpdatedAt = time.Now().UTC()
	switch {
	case callErr != nil && lastAttempt:
		j.Status = JobFailed
		j.Error = callErr.Error()
	case callErr != nil:
		j.Status = JobQueued
		j.Error = callErr.Error()
	default:
		j.Status = JobSucceeded
		j.Reply = reply
		j.Error = ""
	}
	if err := s.jobs.UpdateJob(ctx, j); err != nil {
		return err
	}
	return callErr
}

func (s *Service) check(model string, messages []ai.Message) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	for i, m := range messages {
		switch m.Role {
		case "user", "assistant", "system":
		default:
			return "", fmt.Errorf("%w: message %d has role %q", ErrInvalidRequest, i, m.Role)
		}
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = s.defaultModel
	}
	return model, nil
}

func (s *Service) call(ctx context.Context, mode, model string, messages []ai.Message) (string, error) {
	provider, err := s.registry.Get(ctx, s.provider, model)
	if err != nil {
		return "", err
	}
	start := time.Now()
	reply, err := provider.Chat(ctx, messages)
	metrics.CompletionLatency.WithLabelValues(s.provider).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Completions.WithLabelValues(s.provider, mode, "error").Inc()
		s.log.Warn("completion failed", "provider", s.provider, "model", model, "mode", mode, "cost", time.Since(start), "err", err)
		return "", err
	}
	metrics.Completions.WithLabelValues(s.provider, mode, "ok").Inc()
	return reply, nil
}
