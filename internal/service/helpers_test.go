package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stitchworks/erp-auth/internal/audit"
	"github.com/stitchworks/erp-auth/internal/domain"
	"github.com/stitchworks/erp-auth/internal/repository"
	"github.com/stitchworks/erp-auth/internal/security"
)

// memorySessionRepo is an in-memory SessionRepository for service tests.
type memorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session // keyed by session ID
}

func newMemorySessionRepo() *memorySessionRepo {
	return &memorySessionRepo{sessions: map[string]*domain.Session{}}
}

func (r *memorySessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.sessions[s.ID] = &cp
	return nil
}

func (r *memorySessionRepo) FindByHash(_ context.Context, hash string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash {
			cp := *s
			return &cp, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memorySessionRepo) FindByIDForUser(_ context.Context, userID, sessionID string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, repository.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memorySessionRepo) ListActiveByUserID(_ context.Context, userID string) ([]domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Session
	now := time.Now()
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out, nil
}

func (r *memorySessionRepo) CountActiveByUserID(ctx context.Context, userID string) (int64, error) {
	list, _ := r.ListActiveByUserID(ctx, userID)
	return int64(len(list)), nil
}

func (r *memorySessionRepo) TouchActivity(_ context.Context, sessionID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.LastActivityAt = at
	}
	return nil
}

func (r *memorySessionRepo) RotateSession(_ context.Context, oldHash string, newSession *domain.Session) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == oldHash && s.Active(now) {
			reason := repository.ReasonRotated
			revokedAt := now.UTC()
			s.RevokedAt = &revokedAt
			s.RevokedReason = &reason
			cp := *newSession
			r.sessions[newSession.ID] = &cp
			old := *s
			return &old, nil
		}
	}
	return nil, repository.ErrSessionNotFound
}

func (r *memorySessionRepo) MarkReuseDetectedByHash(_ context.Context, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	reason := repository.ReasonReuseDetected
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash {
			s.ReuseDetectedAt = &now
			s.RevokedReason = &reason
		}
	}
	return nil
}

func (r *memorySessionRepo) RevokeByHash(_ context.Context, hash, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for _, s := range r.sessions {
		if s.RefreshTokenHash == hash && s.RevokedAt == nil {
			rs := reason
			s.RevokedAt = &now
			s.RevokedReason = &rs
		}
	}
	return nil
}

func (r *memorySessionRepo) RevokeByIDForUser(_ context.Context, userID, sessionID, reason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID || s.RevokedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	rs := reason
	s.RevokedAt = &now
	s.RevokedReason = &rs
	return true, nil
}

func (r *memorySessionRepo) RevokeByFamilyID(_ context.Context, familyID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, s := range r.sessions {
		if s.FamilyID != nil && *s.FamilyID == familyID && s.RevokedAt == nil {
			rs := reason
			s.RevokedAt = &now
			s.RevokedReason = &rs
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) RevokeByUserID(_ context.Context, userID, reason string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	var n int64
	for _, s := range r.sessions {
		if s.UserID == userID && s.RevokedAt == nil {
			rs := reason
			s.RevokedAt = &now
			s.RevokedReason = &rs
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) RevokeOldestByUserID(_ context.Context, userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var oldest *domain.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.Active(now) {
			if oldest == nil || s.LastActivityAt.Before(oldest.LastActivityAt) {
				oldest = s
			}
		}
	}
	if oldest != nil {
		revokedAt := now.UTC()
		rs := reason
		oldest.RevokedAt = &revokedAt
		oldest.RevokedReason = &rs
	}
	return nil
}

func (r *memorySessionRepo) CleanupExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var n int64
	for id, s := range r.sessions {
		if !s.ExpiresAt.After(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

func (r *memorySessionRepo) setExpiry(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.ExpiresAt = at
	}
}

func (r *memorySessionRepo) get(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		cp := *s
		return &cp
	}
	return nil
}

// memoryTwoFactorRepo is an in-memory TwoFactorRepository.
type memoryTwoFactorRepo struct {
	mu          sync.Mutex
	enrollments map[string]*domain.TwoFactorEnrollment
}

func newMemoryTwoFactorRepo() *memoryTwoFactorRepo {
	return &memoryTwoFactorRepo{enrollments: map[string]*domain.TwoFactorEnrollment{}}
}

func (r *memoryTwoFactorRepo) Get(_ context.Context, userID string) (*domain.TwoFactorEnrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.enrollments[userID]
	if !ok {
		return nil, repository.ErrEnrollmentNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memoryTwoFactorRepo) Upsert(_ context.Context, e *domain.TwoFactorEnrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.enrollments[e.UserID] = &cp
	return nil
}

func (r *memoryTwoFactorRepo) Save(_ context.Context, e *domain.TwoFactorEnrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.enrollments[e.UserID] = &cp
	return nil
}

func (r *memoryTwoFactorRepo) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.enrollments, userID)
	return nil
}

// captureSink records audit events synchronously for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Record(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Action)
	}
	return out
}

func (s *captureSink) has(action string) bool {
	for _, a := range s.actions() {
		if a == action {
			return true
		}
	}
	return false
}

func newTestAuditor(sink audit.Sink) *audit.Dispatcher {
	return audit.NewDispatcher(sink, 64)
}

func testJWTManager() *security.JWTManager {
	return security.NewJWTManager("erp-auth-test", "erp-admin", "unit-test-secret-material-32-chars!", 15*time.Minute, 24*time.Hour)
}
