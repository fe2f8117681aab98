package celox

import (
	"context"
	"sync/atomic"

	"github.com/celox-dev/celox/cache"
)

// EngineStats are cumulative counters for one Engine.
type EngineStats struct {
	Renders             uint64 `json:"renders"`
	CacheHits           uint64 `json:"cache_hits"`
	CacheMisses         uint64 `json:"cache_misses"`
	Fallbacks           uint64 `json:"fallbacks"`
	NativeUses          uint64 `json:"native_uses"`
	NativeRejections    uint64 `json:"native_rejections"`
	UnknownPathSegments uint64 `json:"unknown_path_segments"`
}

// Stats combines engine counters with the serializer cache's tier
// counts.
type Stats struct {
	Engine EngineStats `json:"engine"`
	Cache  cache.Stats `json:"cache"`
}

type counters struct {
	renders             atomic.Uint64
	cacheHits           atomic.Uint64
	cacheMisses         atomic.Uint64
	fallbacks           atomic.Uint64
	nativeUses          atomic.Uint64
	nativeRejections    atomic.Uint64
	unknownPathSegments atomic.Uint64
}

func (c *counters) snapshot() EngineStats {
	return EngineStats{
		Renders:             c.renders.Load(),
		CacheHits:           c.cacheHits.Load(),
		CacheMisses:         c.cacheMisses.Load(),
		Fallbacks:           c.fallbacks.Load(),
		NativeUses:          c.nativeUses.Load(),
		NativeRejections:    c.nativeRejections.Load(),
		UnknownPathSegments: c.unknownPathSegments.Load(),
	}
}

// Stats reports the engine counters and cache tier counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	cacheStats, err := e.cache.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Engine: e.counters.snapshot(), Cache: cacheStats}, nil
}
