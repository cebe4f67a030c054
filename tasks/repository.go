package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/eventkit/resiliency"
	"github.com/vinayprograms/eventkit/state"
)

// KeyPrefix is prepended to a task key to form its state key.
const KeyPrefix = "TaskProcessor"

// StateKey returns the state key of the processor for key.
func StateKey(key string) string {
	return KeyPrefix + key
}

// Load reads the processor for key. found is false if none was saved yet.
func Load(ctx context.Context, p state.Provider, key string) (TaskProcessor, bool, error) {
	tp, found, err := state.TryGet[TaskProcessor](ctx, p, StateKey(key))
	if err != nil {
		return TaskProcessor{}, false, fmt.Errorf("load task %s: %w", key, err)
	}
	return tp, found, nil
}

// LoadOrNew reads the processor for key, or creates a New one with policy.
func LoadOrNew(ctx context.Context, p state.Provider, key string, policy resiliency.Policy, now time.Time) (TaskProcessor, error) {
	tp, found, err := Load(ctx, p, key)
	if err != nil {
		return TaskProcessor{}, err
	}
	if !found {
		return New(policy, now), nil
	}
	return tp, nil
}

// Save stages the processor for key. It never commits.
func Save(ctx context.Context, p state.Provider, key string, tp TaskProcessor) error {
	if err := p.SetState(ctx, StateKey(key), tp); err != nil {
		return fmt.Errorf("save task %s: %w", key, err)
	}
	return nil
}
