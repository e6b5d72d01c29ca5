package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ckdt/internal/checklist"
	"ckdt/internal/metrics"
	"ckdt/internal/session"
)

type sessionPath struct {
	SessionID string `path:"session_id"`
}

type viewBody struct {
	Body session.View `json:"body"`
}

func registerSessions(api huma.API, store *session.Store, m *metrics.Metrics) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-session",
		Method:        http.MethodPost,
		Path:          "/services/{service_id}/sessions",
		Summary:       "Open a checklist view",
		Description:   "Starts an in-memory progress session with every item unchecked. Progress is never persisted.",
		Tags:          []string{tagSessions},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *servicePath) (*viewBody, error) {
		v, err := store.Open(ctx, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{session_id}",
		Summary:     "Render a checklist view",
		Tags:        []string{tagSessions},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*viewBody, error) {
		v, err := store.Get(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "toggle-item",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/toggle",
		Summary:     "Check or uncheck an item",
		Description: "Unknown section or item ids leave the view unchanged.",
		Tags:        []string{tagSessions},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SessionID string        `path:"session_id"`
		Body      ToggleRequest `json:"body"`
	}) (*viewBody, error) {
		before, err := store.Get(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		v, err := store.Toggle(ctx, input.SessionID, input.Body.SectionID, input.Body.ItemID)
		if err != nil {
			return nil, handleError(err)
		}
		m.ObserveToggle(before.Summary.Complete, v.Summary.Complete)
		return &viewBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/reset",
		Summary:     "Uncheck every item",
		Tags:        []string{tagSessions},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*viewBody, error) {
		v, err := store.Reset(ctx, input.SessionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &viewBody{Body: v}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "leave-session",
		Method:        http.MethodDelete,
		Path:          "/sessions/{session_id}",
		Summary:       "Leave a checklist view",
		Description:   "Discards the session and its progress.",
		Tags:          []string{tagSessions},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *sessionPath) (*struct{}, error) {
		if err := store.Leave(input.SessionID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerEvaluate(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "evaluate-checklist",
		Method:      http.MethodPost,
		Path:        "/checklist/evaluate",
		Summary:     "Evaluate a checklist",
		Description: "Computes completion and progress for the posted sections. Items carrying alternative_of are grouped into alternative sections first.",
		Tags:        []string{tagSessions},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body EvaluateRequest `json:"body"`
	}) (*struct {
		Body EvaluateResponse `json:"body"`
	}, error) {
		svc := input.Body.service()
		legacy := checklist.HasLegacyGroups(svc)
		svc = checklist.NormalizeLegacyGroups(svc)
		return &struct {
			Body EvaluateResponse `json:"body"`
		}{Body: EvaluateResponse{Summary: checklist.Summarize(svc), Normalized: legacy}}, nil
	})
}
