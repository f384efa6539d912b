package whisper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/transcribe-hub/backend/internal/db/models"
)

// ErrEngineLoad means no engine could be brought up, even the fallback.
var ErrEngineLoad = errors.New("engine load failed")

// FallbackModel is tried once when the requested model fails to load.
const FallbackModel = "tiny"

// Factory builds an engine for a model size. It should fail fast when the
// backing runtime cannot serve the model.
type Factory func(ctx context.Context, model string) (Engine, error)

// HTTPFactory returns a Factory producing Clients against one server.
func HTTPFactory(baseURL string) Factory {
	return func(ctx context.Context, model string) (Engine, error) {
		c := NewClient(baseURL, model)
		if err := c.Ping(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ModelCache holds loaded engines keyed by model size. Safe for concurrent
// use by multiple pipeline runs; the first caller for a size loads it while
// others wait on the lock.
type ModelCache struct {
	mu      sync.Mutex
	factory Factory
	engines map[string]Engine
}

func NewModelCache(factory Factory) *ModelCache {
	return &ModelCache{
		factory: factory,
		engines: make(map[string]Engine),
	}
}

// GetOrLoad returns the engine for a model size, loading it on first use.
// An invalid size is rejected outright. A load failure falls back to the
// smallest model once; if that also fails the error is fatal for the caller.
func (c *ModelCache) GetOrLoad(ctx context.Context, model string) (Engine, error) {
	if !models.IsValidModel(model) {
		return nil, fmt.Errorf("unknown whisper model %q", model)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if engine, ok := c.engines[model]; ok {
		return engine, nil
	}

	engine, err := c.factory(ctx, model)
	if err == nil {
		c.engines[model] = engine
		return engine, nil
	}

	if model == FallbackModel {
		return nil, fmt.Errorf("%w: %v", ErrEngineLoad, err)
	}
	log.Printf("[whisper] model %s failed to load, falling back to %s: %v", model, FallbackModel, err)

	if engine, ok := c.engines[FallbackModel]; ok {
		return engine, nil
	}
	engine, fallbackErr := c.factory(ctx, FallbackModel)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: %s: %v (fallback %s: %v)", ErrEngineLoad, model, err, FallbackModel, fallbackErr)
	}
	c.engines[FallbackModel] = engine
	return engine, nil
}
