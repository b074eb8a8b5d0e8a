package main

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/logger"
	"github.com/suPer8Hu/chatkeep/internal/store/rabbitmq"
)

const maxAttempts = 3

type runner interface {
	Run(ctx context.Context, jobID string, lastAttempt bool) error
}

type retrier interface {
	PublishRetry(ctx context.Context, m rabbitmq.JobMessage, delay time.Duration) error
}

type outcome int

const (
	ack outcome = iota
	// dead-letter to the .dlq queue
	reject
)

// process runs one delivery body. Failures before the last attempt are parked
// on the retry queue and acked; the last one is rejected to the DLQ.
func process(ctx context.Context, svc runner, retry retrier, log *logger.Logger, body []byte) outcome {
	m, err := rabbitmq.DecodeJob(body)
	if err != nil {
		log.Warn("bad job message", "err", err)
		return reject
	}

	start := time.Now()
	last := m.Attempt+1 >= maxAttempts
	err = svc.Run(ctx, m.JobID, last)
	switch {
	case err == nil:
		if cost := time.Since(start); cost > 2*time.Second {
			log.Info("job slow", "job_id", m.JobID, "attempt", m.Attempt, "cost", cost)
		}
		return ack
	case errors.Is(err, completion.ErrJobNotFound):
		// record expired or never written; nothing to retry
		log.Warn("job record missing", "job_id", m.JobID)
		return ack
	case last:
		log.Error("job failed", "job_id", m.JobID, "attempt", m.Attempt, "cost", time.Since(start), "err", err)
		return reject
	}

	delay := time.Duration(m.Attempt+1) * 5 * time.Second
	if perr := retry.PublishRetry(ctx, m, delay); perr != nil {
		log.Error("schedule retry failed", "job_id", m.JobID, "err", perr)
		return reject
	}
	log.Warn("job retry scheduled", "job_id", m.JobID, "attempt", m.Attempt+1, "delay", delay, "err", err)
	return ack
}
