package service

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

// Me returns the caller's own profile.
func (s *AuthService) Me(ctx context.Context, userID string) (domain.PublicUser, error) {
	user, err := s.userOrSessionError(ctx, userID)
	if err != nil {
		return domain.PublicUser{}, err
	}
	return user.Public(), nil
}

// Stats are coarse counters for the admin metrics endpoint.
type Stats struct {
	Users             int64 `json:"users"`
	ActiveSessions    int64 `json:"activeSessions"`
	AuditEventsLast24 int64 `json:"auditEventsLast24h"`
}

func (s *AuthService) Stats(ctx context.Context) (Stats, error) {
	now := s.clock.Now()

	users, err := s.store.Users().CountUsers(ctx)
	if err != nil {
		return Stats{}, unavailable(err)
	}
	sessions, err := s.store.Sessions().CountActive(ctx, now)
	if err != nil {
		return Stats{}, unavailable(err)
	}
	events, err := s.store.AuditLogs().CountSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return Stats{}, unavailable(err)
	}
	return Stats{Users: users, ActiveSessions: sessions, AuditEventsLast24: events}, nil
}
