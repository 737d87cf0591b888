package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// DefaultAttempts is how many times a write is tried before giving up.
const DefaultAttempts = 10

// ErrPersist is returned when a write still fails after every attempt.
var ErrPersist = errors.New("failed to persist bot registry")

// Bot is the stored record for one published bot.
type Bot struct {
	Name string `json:"bot_name"`
}

// Record is a Bot with its id, as listed.
type Record struct {
	ID   string `json:"bot_id"`
	Name string `json:"bot_name"`
}

// Store is a flat keyed registry of published bots.
type Store interface {
	Load(ctx context.Context) (map[string]Bot, error)
	Save(ctx context.Context, bots map[string]Bot) error
	Put(ctx context.Context, id string, bot Bot) error
	Close() error
}

// List returns the stored bots ordered by id.
func List(ctx context.Context, s Store) ([]Record, error) {
	bots, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(bots))
	for id, bot := range bots {
		out = append(out, Record{ID: id, Name: bot.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type retrier struct {
	attempts int
	wait     time.Duration
	logger   *zap.Logger
}

func newRetrier(attempts int, logger *zap.Logger) retrier {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return retrier{attempts: attempts, wait: 50 * time.Millisecond, logger: logger}
}

func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if last = fn(); last == nil {
			return nil
		}
		r.logger.Warn("bot registry write failed, retrying", zap.String("op", op), zap.Int("attempt", attempt), zap.Error(last))
		if attempt == r.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrPersist, op, ctx.Err())
		case <-time.After(r.wait):
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", ErrPersist, op, r.attempts, last)
}
