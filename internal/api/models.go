package api

import (
	"net/http"

	"github.com/user/llmcouncil/internal/registry"
)

type modelsResponse struct {
	AvailableModels      []string `json:"available_models"`
	DefaultCouncilModels []string `json:"default_council_models"`
	DefaultChairmanModel string   `json:"default_chairman_model"`
	ClarifierModel       string   `json:"clarifier_model,omitempty"`
	TitleModel           string   `json:"title_model,omitempty"`
}

// updateModelsRequest mirrors modelsResponse; omitted fields keep their value.
type updateModelsRequest struct {
	AvailableModels      *[]string `json:"available_models"`
	DefaultCouncilModels *[]string `json:"default_council_models"`
	DefaultChairmanModel *string   `json:"default_chairman_model"`
	ClarifierModel       *string   `json:"clarifier_model"`
	TitleModel           *string   `json:"title_model"`
}

func toModelsResponse(cat *registry.Catalog) modelsResponse {
	return modelsResponse{
		AvailableModels:      cat.AvailableModels,
		DefaultCouncilModels: cat.CouncilModels,
		DefaultChairmanModel: cat.ChairmanModel,
		ClarifierModel:       cat.ClarifierModel,
		TitleModel:           cat.TitleModel,
	}
}

func (h *handler) listModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		jsonError(w, http.StatusServiceUnavailable, "model catalog unavailable")
		return
	}
	jsonResponse(w, http.StatusOK, toModelsResponse(h.models.Get()))
}

func (h *handler) updateModels(w http.ResponseWriter, r *http.Request) {
	if h.models == nil {
		jsonError(w, http.StatusServiceUnavailable, "model catalog unavailable")
		return
	}
	var req updateModelsRequest
	if err := decodeJSON(r, &req); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cat := h.models.Get()
	if req.AvailableModels != nil {
		cat.AvailableModels = *req.AvailableModels
	}
	if req.DefaultCouncilModels != nil {
		cat.CouncilModels = *req.DefaultCouncilModels
	}
	if req.DefaultChairmanModel != nil {
		cat.ChairmanModel = *req.DefaultChairmanModel
	}
	if req.ClarifierModel != nil {
		cat.ClarifierModel = *req.ClarifierModel
	}
	if req.TitleModel != nil {
		cat.TitleModel = *req.TitleModel
	}
	if err := h.models.Save(cat); err != nil {
		jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.logger.Info("model catalog updated", "council", len(cat.CouncilModels), "chairman", cat.ChairmanModel)
	jsonResponse(w, http.StatusOK, toModelsResponse(h.models.Get()))
}
