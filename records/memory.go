package records

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mbolis/matrix-survey/model"
)

// Memory keeps records in process. It follows the same rules as SQLStore.
type Memory struct {
	mu      sync.Mutex
	records []model.Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: func() time.Time { return time.Now().UTC() }}
}

func (m *Memory) Insert(_ context.Context, p *model.Payload, questions []model.Question) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user := strings.TrimSpace(p.String(model.FieldUser))
	if user == "" {
		user = model.AnonymousUser
	}
	now := m.now()
	rec := model.Record{
		ID:          uuid.NewString(),
		UserName:    user,
		SubmittedAt: now,
		Slots:       model.SlotsFor(questions, p),
		CreatedAt:   now,
		Fields:      p,
	}
	m.records = append(m.records, rec)
	return &rec, nil
}

func (m *Memory) Unsynced(context.Context) ([]model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unsynced := []model.Record{}
	for _, rec := range m.records {
		if !rec.Synced {
			unsynced = append(unsynced, rec)
		}
	}
	return unsynced, nil
}

func (m *Memory) MarkSynced(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if !m.records[i].Synced {
			now := m.now()
			m.records[i].Synced = true
			m.records[i].SyncedAt = &now
		}
		return nil
	}
	return ErrNotFound
}

// All returns a copy of every record, in insertion order.
func (m *Memory) All() []model.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Record{}, m.records...)
}
