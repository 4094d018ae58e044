package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/crestview/portalbridge/internal/portal"
	"github.com/crestview/portalbridge/internal/replay"
)

func registerPortalHandlers(api huma.API, svc Service) {
	type fetchInput struct {
		Body struct {
			Endpoints []string `json:"endpoints" minItems:"1" doc:"Endpoint addresses, absolute or relative to the portal base URL"`
		}
	}
	type fetchOutput struct {
		Body struct {
			Results map[string]replay.Result `json:"results"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "fetch-data", Method: http.MethodPost, Path: "/api/v1/portal/fetch", Summary: "Replay captured portal endpoints with the stored session", Tags: []string{"Portal"}},
		func(ctx context.Context, input *fetchInput) (*fetchOutput, error) {
			results, err := svc.FetchData(ctx, input.Body.Endpoints)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &fetchOutput{}
			out.Body.Results = results
			return out, nil
		})

	type residentsOutput struct {
		Body struct {
			Residents []portal.Resident `json:"residents"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-residents", Method: http.MethodGet, Path: "/api/v1/portal/residents", Summary: "Fetch the portal member directory", Tags: []string{"Portal"}},
		func(ctx context.Context, input *struct{}) (*residentsOutput, error) {
			residents, err := svc.Residents(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &residentsOutput{}
			out.Body.Residents = residents
			return out, nil
		})

	type flatsOutput struct {
		Body struct {
			Flats []portal.Flat `json:"flats"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-flats", Method: http.MethodGet, Path: "/api/v1/portal/flats", Summary: "Fetch the portal apartment list", Tags: []string{"Portal"}},
		func(ctx context.Context, input *struct{}) (*flatsOutput, error) {
			flats, err := svc.Flats(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &flatsOutput{}
			out.Body.Flats = flats
			return out, nil
		})
}
