package handlers

import (
	"context"
	"time"

	"github.com/suPer8Hu/chatkeep/internal/auth"
	"github.com/suPer8Hu/chatkeep/internal/chat"
	"github.com/suPer8Hu/chatkeep/internal/completion"
	"github.com/suPer8Hu/chatkeep/internal/config"
	"github.com/suPer8Hu/chatkeep/internal/logger"
)

// LoginLimiter throttles password guessing per username.
type LoginLimiter interface {
	Allow(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, error)
	Reset(ctx context.Context, scope, subject string) error
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	Cfg        config.Config
	Log        *logger.Logger
	Creds      *auth.Credentials
	Chats      *chat.Service
	Completion *completion.Service

	// optional, nil when redis is not configured
	Revoker auth.Revoker
	Limiter LoginLimiter

	Checks map[string]HealthCheck
}

func NewHandler(cfg config.Config, log *logger.Logger, creds *auth.Credentials, chats *chat.Service, comp *completion.Service) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		Cfg:        cfg,
		Log:        log.With("component", "http"),
		Creds:      creds,
		Chats:      chats,
		Completion: comp,
		Checks:     make(map[string]HealthCheck),
	}
}
