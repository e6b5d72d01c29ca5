package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"ckdt/internal/domain"
	"ckdt/internal/engine"
	"ckdt/internal/search"
)

func registerVocabulary(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "Service categories",
		Tags:        []string{tagCatalog},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Category `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Category `json:"body"`
		}{Body: domain.Categories}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tags",
		Method:      http.MethodGet,
		Path:        "/tags",
		Summary:     "Document tags",
		Tags:        []string{tagCatalog},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Tag `json:"body"`
	}, error) {
		return &struct {
			Body []domain.Tag `json:"body"`
		}{Body: domain.Tags}, nil
	})
}

type servicePath struct {
	ServiceID string `path:"service_id"`
}

type serviceBody struct {
	Body domain.Service `json:"body"`
}

func registerCatalog(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-services",
		Method:      http.MethodGet,
		Path:        "/services",
		Summary:     "List services",
		Description: "Category accepts accented or plain spelling (veiculo, Veículo). Q matches titles, descriptions, section titles and item texts ignoring accents.",
		Tags:        []string{tagCatalog},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Category string `query:"category"`
		Q        string `query:"q"`
	}) (*struct {
		Body []ServiceSummaryResponse `json:"body"`
	}, error) {
		q := engine.ServiceQuery{Text: input.Q}
		if input.Category != "" {
			c, ok := search.ParseCategory(input.Category)
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown category", map[string]any{"category": input.Category})
			}
			q.Category = c
		}
		items, err := e.ListServices(ctx, q)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ServiceSummaryResponse, 0, len(items))
		for _, s := range items {
			out = append(out, serviceSummary(s))
		}
		return &struct {
			Body []ServiceSummaryResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-service",
		Method:      http.MethodGet,
		Path:        "/services/{service_id}",
		Summary:     "Get a service with its checklist",
		Tags:        []string{tagCatalog},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *servicePath) (*serviceBody, error) {
		svc, err := e.GetService(ctx, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-service",
		Method:        http.MethodPost,
		Path:          "/services",
		Summary:       "Create service",
		Tags:          []string{tagAdmin},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body engine.ServiceInput `json:"body"`
	}) (*serviceBody, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.CreateService(ctx, actor, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-service",
		Method:      http.MethodPut,
		Path:        "/services/{service_id}",
		Summary:     "Replace service content",
		Description: "Sections and items matching the stored ones (by id, else section title and item position) keep their ids.",
		Tags:        []string{tagAdmin},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ServiceID string              `path:"service_id"`
		Body      engine.ServiceInput `json:"body"`
	}) (*serviceBody, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.UpdateService(ctx, actor, input.ServiceID, input.Body)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-service",
		Method:        http.MethodDelete,
		Path:          "/services/{service_id}",
		Summary:       "Delete service",
		Tags:          []string{tagAdmin},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *servicePath) (*struct{}, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteService(ctx, actor, input.ServiceID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "duplicate-service",
		Method:        http.MethodPost,
		Path:          "/services/{service_id}/duplicate",
		Summary:       "Duplicate service",
		Tags:          []string{tagAdmin},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *servicePath) (*serviceBody, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.DuplicateService(ctx, actor, input.ServiceID)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-sections",
		Method:      http.MethodPut,
		Path:        "/services/{service_id}/sections/order",
		Summary:     "Reorder sections",
		Tags:        []string{tagAdmin},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ServiceID string         `path:"service_id"`
		Body      ReorderRequest `json:"body"`
	}) (*serviceBody, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.ReorderSections(ctx, actor, input.ServiceID, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-items",
		Method:      http.MethodPut,
		Path:        "/sections/{section_id}/items/order",
		Summary:     "Reorder items of a section",
		Tags:        []string{tagAdmin},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SectionID string         `path:"section_id"`
		Body      ReorderRequest `json:"body"`
	}) (*serviceBody, error) {
		actor, authErr := requireActor(ctx)
		if authErr != nil {
			return nil, authErr
		}
		svc, err := e.ReorderItems(ctx, actor, input.SectionID, input.Body.IDs)
		if err != nil {
			return nil, handleError(err)
		}
		return &serviceBody{Body: svc}, nil
	})
}
