package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/crestview/portalbridge/internal/session"
	"github.com/crestview/portalbridge/internal/store"
)

type sessionIDInput struct {
	SessionID string `path:"session_id" doc:"Capture session identifier"`
}

type projectionOutput struct {
	Body session.Projection
}

type recordOutput struct {
	Body store.Record
}

func registerCaptureHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "start-capture", Method: http.MethodPost, Path: "/api/v1/captures", Summary: "Open a browser on the portal login page and start capturing", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*projectionOutput, error) {
			proj, err := svc.StartCapture(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &projectionOutput{Body: proj}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "poll-capture", Method: http.MethodGet, Path: "/api/v1/captures/{session_id}", Summary: "Poll a capture session's login progress", Tags: []string{"Capture"}},
		func(ctx context.Context, input *sessionIDInput) (*projectionOutput, error) {
			proj, err := svc.PollCapture(ctx, input.SessionID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &projectionOutput{Body: proj}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cancel-capture", Method: http.MethodDelete, Path: "/api/v1/captures/{session_id}", Summary: "Cancel a capture session, keeping any credentials already collected", Tags: []string{"Capture"}},
		func(ctx context.Context, input *sessionIDInput) (*struct {
			Body struct {
				Status string `json:"status"`
			}
		}, error) {
			if err := svc.CancelCapture(ctx, input.SessionID); err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Status string `json:"status"`
				}
			}{}
			out.Body.Status = "cancelled"
			return out, nil
		})

	huma.Register(api, huma.Operation{OperationID: "auto-login", Method: http.MethodPost, Path: "/api/v1/sessions/login", Summary: "Run a headless credential login and store the session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*recordOutput, error) {
			rec, err := svc.Login(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &recordOutput{Body: rec}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "latest-session", Method: http.MethodGet, Path: "/api/v1/sessions/latest", Summary: "Fetch the most recent stored logged-in session", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*recordOutput, error) {
			rec, err := svc.LatestSession(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			return &recordOutput{Body: rec}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "cleanup-sessions", Method: http.MethodPost, Path: "/api/v1/sessions/cleanup", Summary: "Delete expired stored sessions", Tags: []string{"Sessions"}},
		func(ctx context.Context, input *struct{}) (*struct {
			Body struct {
				Removed int64 `json:"removed"`
			}
		}, error) {
			removed, err := svc.CleanupSessions(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &struct {
				Body struct {
					Removed int64 `json:"removed"`
				}
			}{}
			out.Body.Removed = removed
			return out, nil
		})
}
