// Package controller wires the capture, store and replay layers into the
// single service the API serves.
package controller

import (
	"context"
	"strings"
	"time"

	"github.com/crestview/portalbridge/internal/portal"
	"github.com/crestview/portalbridge/internal/replay"
	"github.com/crestview/portalbridge/internal/session"
	"github.com/crestview/portalbridge/internal/store"
)

// Service is the bridge facade behind the HTTP API.
type Service struct {
	manager *session.Manager
	store   *store.Store
	replay  *replay.Client
	portal  *portal.Client
	creds   session.Credentials
}

// Options carries the facade's wiring inputs.
type Options struct {
	Manager     *session.Manager
	Store       *store.Store
	Profile     *portal.Profile
	Credentials session.Credentials
	HTTPTimeout time.Duration
}

func NewService(opts Options) *Service {
	s := &Service{
		manager: opts.Manager,
		store:   opts.Store,
		creds:   opts.Credentials,
	}

	// Reauthentication only works with configured credentials; without them
	// a rejected replay stays rejected.
	var reauth replay.Reauth
	if opts.Credentials.Email != "" && opts.Credentials.Password != "" {
		reauth = func(ctx context.Context) (store.Record, error) {
			return opts.Manager.AutoLogin(ctx, opts.Credentials)
		}
	}

	s.replay = replay.NewClient(replay.Config{
		BaseURL: opts.Profile.BaseURL,
		Timeout: opts.HTTPTimeout,
	}, opts.Store, reauth)
	s.portal = portal.NewClient(s.replay, opts.Profile)
	return s
}

func (s *Service) StartCapture(ctx context.Context) (session.Projection, error) {
	return s.manager.Start(ctx)
}

func (s *Service) PollCapture(ctx context.Context, sessionID string) (session.Projection, error) {
	if err := s.requireNonEmpty(sessionID, "session_id"); err != nil {
		return session.Projection{}, err
	}
	return s.manager.Poll(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) CancelCapture(ctx context.Context, sessionID string) error {
	if err := s.requireNonEmpty(sessionID, "session_id"); err != nil {
		return err
	}
	return s.manager.Cancel(ctx, strings.TrimSpace(sessionID))
}

func (s *Service) Login(ctx context.Context) (store.Record, error) {
	return s.manager.AutoLogin(ctx, s.creds)
}

func (s *Service) LatestSession(ctx context.Context) (store.Record, error) {
	return s.store.Latest(ctx)
}

func (s *Service) CleanupSessions(ctx context.Context) (int64, error) {
	return s.store.CleanupExpired(ctx)
}

func (s *Service) FetchData(ctx context.Context, endpoints []string) (map[string]replay.Result, error) {
	if len(endpoints) == 0 {
		return nil, session.NewError(session.CodeValidation, "endpoints are required", nil)
	}
	return s.replay.FetchAll(ctx, endpoints)
}

func (s *Service) Residents(ctx context.Context) ([]portal.Resident, error) {
	return s.portal.Residents(ctx)
}

func (s *Service) Flats(ctx context.Context) ([]portal.Flat, error) {
	return s.portal.Flats(ctx)
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return session.NewError(session.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}
