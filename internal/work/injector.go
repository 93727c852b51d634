package work

import (
	"math/rand"
	"sync"

	"github.com/MikeGii/vomm-sub003/internal/catalog"
	"github.com/MikeGii/vomm-sub003/model"
)

// Injector decides whether a completion boundary produces a work event and,
// if so, which one. The roll happens at most once per session; persistence
// of the outcome is the caller's job.
type Injector struct {
	catalog *catalog.Catalog
	chance  float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewInjector creates an injector that fires with the given probability.
// A nil rng falls back to a time-seeded source.
func NewInjector(cat *catalog.Catalog, chance float64, rng *rand.Rand) *Injector {
	if rng == nil {
		rng = rand.New(rand.NewSource(rand.Int63()))
	}
	return &Injector{catalog: cat, chance: chance, rng: rng}
}

// Roll returns the event to inject, or nil when no event fires. Accelerated
// sessions never receive events. When the chance roll succeeds but no event
// in the catalog matches the activity type and player level, the roll is a
// miss and the session completes normally.
func (inj *Injector) Roll(activityType string, playerLevel int, accelerated bool) *model.WorkEvent {
	if accelerated {
		return nil
	}

	inj.mu.Lock()
	hit := inj.rng.Float64() < inj.chance
	var pick int
	if hit {
		pick = inj.rng.Int()
	}
	inj.mu.Unlock()

	if !hit {
		return nil
	}
	eligible := inj.catalog.EligibleEvents(activityType, playerLevel)
	if len(eligible) == 0 {
		return nil
	}
	evt := eligible[pick%len(eligible)]
	return &evt
}
