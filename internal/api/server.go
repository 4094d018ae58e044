// Package api exposes the bridge over HTTP: capture session lifecycle,
// stored-session access, and browserless portal replay.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/crestview/portalbridge/internal/portal"
	"github.com/crestview/portalbridge/internal/replay"
	"github.com/crestview/portalbridge/internal/session"
	"github.com/crestview/portalbridge/internal/store"
)

type Service interface {
	StartCapture(ctx context.Context) (session.Projection, error)
	PollCapture(ctx context.Context, sessionID string) (session.Projection, error)
	CancelCapture(ctx context.Context, sessionID string) error
	Login(ctx context.Context) (store.Record, error)
	LatestSession(ctx context.Context) (store.Record, error)
	CleanupSessions(ctx context.Context) (int64, error)
	FetchData(ctx context.Context, endpoints []string) (map[string]replay.Result, error)
	Residents(ctx context.Context) ([]portal.Resident, error)
	Flats(ctx context.Context) ([]portal.Flat, error)
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Portal Bridge API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerCaptureHandlers(api, svc)
	registerPortalHandlers(api, svc)

	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, replay.ErrNoSession) || errors.Is(err, store.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case session.CodeSessionNotFound:
			return huma.Error404NotFound(coded.Message)
		case session.CodeBrowserUnavailable, session.CodePortalUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
