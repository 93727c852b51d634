package player

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MikeGii/vomm-sub003/model"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	err := s.Create(context.Background(), model.PlayerAttributes{
		PlayerID: "player-1",
		Health:   model.Health{Current: 80, Max: 100},
		Money:    200,
		Level:    3,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return s
}

func TestMemoryStore_getMissing(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "nobody")
	if !model.IsNotFound(err) {
		t.Errorf("Get missing player: err = %v, want NOT_FOUND", err)
	}
}

func TestMemoryStore_createDuplicate(t *testing.T) {
	s := newTestStore(t)
	err := s.Create(context.Background(), model.PlayerAttributes{PlayerID: "player-1"})
	if !model.IsConflict(err) {
		t.Errorf("duplicate Create: err = %v, want CONFLICT", err)
	}
}

func TestMemoryStore_mutatePersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Mutate(ctx, "player-1", func(p *model.PlayerAttributes) error {
		p.Money += 50
		p.IsWorking = true
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	attrs, err := s.Get(ctx, "player-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if attrs.Money != 250 {
		t.Errorf("Money = %d, want 250", attrs.Money)
	}
	if !attrs.IsWorking {
		t.Error("IsWorking = false, want true")
	}
	if attrs.Version != 2 {
		t.Errorf("Version = %d, want 2", attrs.Version)
	}
}

func TestMemoryStore_mutateErrorAbortsWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	wantErr := errors.New("not enough health")

	err := s.Mutate(ctx, "player-1", func(p *model.PlayerAttributes) error {
		p.Money = 0
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Mutate: err = %v, want %v", err, wantErr)
	}

	attrs, _ := s.Get(ctx, "player-1")
	if attrs.Money != 200 {
		t.Errorf("Money = %d after aborted mutation, want 200", attrs.Money)
	}
}

func TestMemoryStore_concurrentMutations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Mutate(ctx, "player-1", func(p *model.PlayerAttributes) error {
				p.Money++
				return nil
			})
		}()
	}
	wg.Wait()

	attrs, _ := s.Get(ctx, "player-1")
	if attrs.Money != 250 {
		t.Errorf("Money = %d after 50 increments, want 250", attrs.Money)
	}
}
