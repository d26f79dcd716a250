package memory

import (
	"context"
	"sync"

	"calsync_server/core/domain"
	"calsync_server/core/port/out"
)

// AppointmentRepository is an in-memory out.AppointmentRepository.
type AppointmentRepository struct {
	mu      sync.Mutex
	rows    map[int64]*domain.Appointment
	Updates []out.SyncStatusUpdate
}

func NewAppointmentRepository(items ...*domain.Appointment) *AppointmentRepository {
	r := &AppointmentRepository{rows: make(map[int64]*domain.Appointment)}
	for _, a := range items {
		r.Put(a)
	}
	return r
}

func (r *AppointmentRepository) Put(a *domain.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	if c.Sync.Status == "" {
		c.Sync.Status = domain.SyncStatusNotSynced
	}
	r.rows[a.ID] = &c
}

func (r *AppointmentRepository) Delete(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
}

func (r *AppointmentRepository) FindByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return nil, out.ErrNotFound
	}
	c := *a
	return &c, nil
}

func (r *AppointmentRepository) UpdateSyncStatus(ctx context.Context, id int64, u out.SyncStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.rows[id]
	if !ok {
		return out.ErrNotFound
	}
	r.Updates = append(r.Updates, u)
	applySync(&a.Sync, u)
	return nil
}

// VideoSessionRepository is an in-memory out.VideoSessionRepository.
type VideoSessionRepository struct {
	mu      sync.Mutex
	rows    map[int64]*domain.VideoSession
	Updates []out.SyncStatusUpdate
}

func NewVideoSessionRepository(items ...*domain.VideoSession) *VideoSessionRepository {
	r := &VideoSessionRepository{rows: make(map[int64]*domain.VideoSession)}
	for _, v := range items {
		r.Put(v)
	}
	return r
}

func (r *VideoSessionRepository) Put(v *domain.VideoSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *v
	if c.Sync.Status == "" {
		c.Sync.Status = domain.SyncStatusNotSynced
	}
	r.rows[v.ID] = &c
}

func (r *VideoSessionRepository) FindByID(ctx context.Context, id int64) (*domain.VideoSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[id]
	if !ok {
		return nil, out.ErrNotFound
	}
	c := *v
	return &c, nil
}

func (r *VideoSessionRepository) UpdateSyncStatus(ctx context.Context, id int64, u out.SyncStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.rows[id]
	if !ok {
		return out.ErrNotFound
	}
	r.Updates = append(r.Updates, u)
	applySync(&v.Sync, u)
	return nil
}

func applySync(s *domain.SyncState, u out.SyncStatusUpdate) {
	s.Status = u.Status
	switch {
	case u.ClearEventID:
		s.EventID = nil
	case u.EventID != nil:
		id := *u.EventID
		s.EventID = &id
	}
	at := u.SyncedAt
	s.LastSyncedAt = &at
	s.Error = u.Error
}
