package engine

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"studio/internal/domain"
	"studio/internal/normalize"
)

type modelsRequest struct {
	APIKey string `json:"apiKey"`
	Mode   string `json:"mode"`
}

type navyModelsResponse struct {
	Models []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"models"`
}

type irisModelsResponse struct {
	Models []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
	} `json:"models"`
}

type onyxModelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

var titleCaser = cases.Title(language.English)

// FetchModels refreshes the model catalog for one provider and mode. Entries
// keep the engine's ordering and the list is capped; onyx publishes bare ids
// so labels are derived by title-casing them.
func (c *Client) FetchModels(ctx context.Context, provider domain.Provider, mode domain.Mode, apiKey string) ([]domain.ModelOption, error) {
	if !provider.Serves(mode) {
		return nil, fmt.Errorf("%w: %s does not serve %s", domain.ErrModeUnsupported, provider, mode)
	}
	req := modelsRequest{APIKey: apiKey, Mode: string(mode)}
	path := endpoint(provider, "models")

	var options []domain.ModelOption
	switch provider {
	case domain.ProviderNavy:
		var decoded navyModelsResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		for _, m := range decoded.Models {
			options = appendModel(options, m.ID, m.Name)
		}
	case domain.ProviderIris:
		var decoded irisModelsResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		for _, m := range decoded.Models {
			options = appendModel(options, m.ID, m.DisplayName)
		}
	case domain.ProviderOnyx:
		var decoded onyxModelsResponse
		if err := c.postJSON(ctx, path, req, &decoded); err != nil {
			return nil, err
		}
		for _, m := range decoded.Data {
			options = appendModel(options, m.ID, labelFromID(m.ID))
		}
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}

	if len(options) == 0 {
		return nil, fmt.Errorf("%w: %s published no %s models", normalize.ErrBadPayload, provider, mode)
	}
	c.logger.Debug().
		Str("provider", string(provider)).
		Str("mode", string(mode)).
		Int("models", len(options)).
		Msg("engine: fetched model catalog")
	return options, nil
}

func appendModel(options []domain.ModelOption, id, label string) []domain.ModelOption {
	id = strings.TrimSpace(id)
	if id == "" || len(options) >= domain.MaxCatalogModels {
		return options
	}
	if strings.TrimSpace(label) == "" {
		label = id
	}
	return append(options, domain.ModelOption{ID: id, Label: label})
}

// labelFromID turns an engine model id like "onyx-swift-1" into "Onyx Swift 1".
func labelFromID(id string) string {
	cleaned := strings.NewReplacer("-", " ", "_", " ").Replace(strings.TrimSpace(id))
	return titleCaser.String(cleaned)
}
