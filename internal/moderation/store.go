package moderation

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Store persists the ban list. Replace writes the whole list; ban lists are
// small and this keeps writes ordered.
type Store interface {
	Load(ctx context.Context) ([]Ban, error)
	Replace(ctx context.Context, bans []Ban) error
}

type MemoryStore struct {
	mu   sync.Mutex
	bans []Ban
}

func NewMemoryStore(initial ...Ban) *MemoryStore {
	return &MemoryStore{bans: slices.Clone(initial)}
}

func (m *MemoryStore) Load(context.Context) ([]Ban, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bans), nil
}

func (m *MemoryStore) Replace(_ context.Context, bans []Ban) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans = slices.Clone(bans)
	return nil
}

// Syncer writes ban list snapshots to a Store in the background. Only the
// latest pending snapshot is kept.
type Syncer struct {
	store   Store
	logger  *zap.Logger
	pending chan []Ban
}

func NewSyncer(store Store, logger *zap.Logger) *Syncer {
	return &Syncer{store: store, logger: logger, pending: make(chan []Ban, 1)}
}

// Submit never blocks.
func (s *Syncer) Submit(bans []Ban) {
	snap := slices.Clone(bans)
	for {
		select {
		case s.pending <- snap:
			return
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

// Run drains snapshots until ctx is done, then flushes whatever is pending.
func (s *Syncer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			select {
			case bans := <-s.pending:
				s.write(context.Background(), bans)
			default:
			}
			return
		case bans := <-s.pending:
			s.write(ctx, bans)
		}
	}
}

func (s *Syncer) write(ctx context.Context, bans []Ban) {
	if err := s.store.Replace(ctx, bans); err != nil {
		s.logger.Error("ban list write failed", zap.Int("bans", len(bans)), zap.Error(err))
		return
	}
	s.logger.Debug("ban list saved", zap.Int("bans", len(bans)))
}
