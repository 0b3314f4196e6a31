package history

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/logging"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
)

var ErrSignInRequired = errors.New("sign in to view scan history")

// Repository stores scan records.
type Repository interface {
	Append(ctx context.Context, rec verification.ScanRecord) (verification.ScanRecord, error)
	ListByOwner(ctx context.Context, owner string, limit int) ([]verification.ScanRecord, error)
}

// Service owns the per-user scans collection.
type Service struct {
	repo Repository
	hub  *feed.Hub
	log  zerolog.Logger
}

func NewService(repo Repository, hub *feed.Hub) *Service {
	return &Service{repo: repo, hub: hub, log: logging.For("history")}
}

// Record appends rec and announces the change to the owner's subscribers.
func (s *Service) Record(ctx context.Context, rec verification.ScanRecord) error {
	saved, err := s.repo.Append(ctx, rec)
	if err != nil {
		return err
	}
	s.log.Debug().Str("scan_id", saved.ID).Str("owner", saved.Owner).Msg("scan recorded")

	if s.hub != nil {
		s.hub.Publish(ctx, feed.Event{
			Topic: feed.ScanTopic(saved.Owner),
			Kind:  feed.KindScan,
			Owner: saved.Owner,
			At:    saved.OccurredAt,
		})
	}
	return nil
}

// List returns the principal's scans, newest first. Anonymous principals
// have no history.
func (s *Service) List(ctx context.Context, principal identity.Principal, limit int) ([]verification.ScanRecord, error) {
	if !principal.SignedIn() {
		return []verification.ScanRecord{}, nil
	}
	return s.repo.ListByOwner(ctx, principal.Owner(), limit)
}

// Subscribe streams change notifications for the principal's scans until ctx
// ends.
func (s *Service) Subscribe(ctx context.Context, principal identity.Principal) (*feed.Subscription, error) {
	if !principal.SignedIn() {
		return nil, ErrSignInRequired
	}
	return s.hub.Subscribe(ctx, feed.ScanTopic(principal.Owner())), nil
}
