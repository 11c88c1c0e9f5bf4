package handlers

import (
	"context"
	"sync"

	"tradecore/internal/models"
	"tradecore/internal/repository"
)

// ============================================================
// Фейковые хранилища для тестов handlers
// ============================================================

type fakeSetups struct {
	setups   map[int64]*models.Setup
	active   int
	err      error
	lastSize int
}

func (f *fakeSetups) GetByID(_ context.Context, id int64) (*models.Setup, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.setups[id]
	if !ok {
		return nil, repository.ErrSetupNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSetups) Recent(_ context.Context, limit int) ([]models.Setup, error) {
	f.lastSize = limit
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Setup
	for _, s := range f.setups {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeSetups) CountActive(context.Context) (int, error) {
	return f.active, f.err
}

type fakeSignals struct {
	mu      sync.Mutex
	created []models.Signal
	nextID  int64
	err     error
}

func (f *fakeSignals) Create(_ context.Context, s *models.Signal) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.created = append(f.created, *s)
	return nil
}

type fakePositions struct {
	open   []models.Position
	recent []models.Position
	err    error
}

func (f *fakePositions) Open(context.Context) ([]models.Position, error) {
	return f.open, f.err
}

func (f *fakePositions) Recent(context.Context, int) ([]models.Position, error) {
	return f.recent, f.err
}

type publishedMessage struct {
	kind string
	data interface{}
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
}

func (p *fakePublisher) Publish(kind string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{kind: kind, data: data})
}

func (p *fakePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.messages))
	for i, m := range p.messages {
		out[i] = m.kind
	}
	return out
}
