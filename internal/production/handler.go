package production

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sistemagestao/sistemagestao/internal/inventory"
	"github.com/sistemagestao/sistemagestao/internal/platform/httpx"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// Handler exposes production endpoints as JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds production handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers production routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/productions", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.register)
		r.Post("/estimate", h.estimate)
		r.Get("/{id}", h.show)
	})
	r.Get("/recipes/{id}/productions", h.listByRecipe)
}

type resultDTO struct {
	ID          int64      `json:"id"`
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    float64    `json:"quantity"`
	Unit        units.Unit `json:"unit"`
	Credited    float64    `json:"credited"`
	Notes       string     `json:"notes,omitempty"`
}

type productionDTO struct {
	ID               int64         `json:"id"`
	Ref              string        `json:"ref"`
	RecipeID         int64         `json:"recipeId"`
	RecipeName       string        `json:"recipeName"`
	Batches          int           `json:"batches"`
	QuantityProduced int           `json:"quantityProduced"`
	TotalCost        float64       `json:"totalCost"`
	EstimatedProfit  float64       `json:"estimatedProfit"`
	StockDiscounted  bool          `json:"stockDiscounted"`
	Notes            string        `json:"notes,omitempty"`
	ProducedAt       time.Time     `json:"producedAt"`
	State            State         `json:"state"`
	Results          []resultDTO   `json:"results"`
	Consumption      []Consumption `json:"consumption"`
}

func toDTO(p Production) productionDTO {
	dto := productionDTO{
		ID:               p.ID,
		Ref:              p.Ref,
		RecipeID:         p.RecipeID,
		RecipeName:       p.RecipeName,
		Batches:          p.Batches,
		QuantityProduced: p.QuantityProduced,
		TotalCost:        p.TotalCost,
		EstimatedProfit:  p.EstimatedProfit,
		StockDiscounted:  p.StockDiscounted,
		Notes:            p.Notes,
		ProducedAt:       p.ProducedAt,
		State:            p.State,
		Results:          make([]resultDTO, 0, len(p.Results)),
		Consumption:      p.Consumption,
	}
	if dto.Consumption == nil {
		dto.Consumption = []Consumption{}
	}
	for _, r := range p.Results {
		dto.Results = append(dto.Results, resultDTO{
			ID:          r.ID,
			ProductID:   r.ProductID,
			ProductName: r.ProductName,
			Quantity:    r.Quantity,
			Unit:        r.Unit,
			Credited:    r.Credited,
			Notes:       r.Notes,
		})
	}
	return dto
}

func toDTOs(list []Production) []productionDTO {
	out := make([]productionDTO, 0, len(list))
	for _, p := range list {
		out = append(out, toDTO(p))
	}
	return out
}

type shortageDTO struct {
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Unit        units.Unit `json:"unit"`
	Available   float64    `json:"available"`
	Required    float64    `json:"required"`
}

type shortageProblem struct {
	httpx.ProblemDetail
	Shortages []shortageDTO `json:"shortages"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := httpx.DecodeStrict(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	req.Actor = r.Header.Get("X-Actor")

	prod, err := h.service.Register(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	w.Header().Set("Location", "/productions/"+strconv.FormatInt(prod.ID, 10))
	httpx.JSON(w, http.StatusCreated, toDTO(prod))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	prod, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTO(prod))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpx.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	list, err := h.service.List(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTOs(list))
}

func (h *Handler) listByRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListByRecipe(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDTOs(list))
}

type estimateLineDTO struct {
	ProductID   int64      `json:"productId"`
	ProductName string     `json:"productName"`
	Quantity    float64    `json:"quantity"`
	Unit        units.Unit `json:"unit"`
	Converted   float64    `json:"converted"`
	ProductUnit units.Unit `json:"productUnit"`
	UnitPrice   float64    `json:"unitPrice"`
	Cost        float64    `json:"cost"`
}

type estimateDTO struct {
	Lines          []estimateLineDTO `json:"lines"`
	TotalCost      float64           `json:"totalCost"`
	SuggestedPrice *float64          `json:"suggestedPrice,omitempty"`
	CostPerPortion *float64          `json:"costPerPortion,omitempty"`
}

func (h *Handler) estimate(w http.ResponseWriter, r *http.Request) {
	var req EstimateRequest
	if err := httpx.DecodeStrict(r, &req); err != nil {
		httpx.BadRequest(w, "invalid JSON body")
		return
	}
	est, err := h.service.EstimateCost(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	dto := estimateDTO{
		Lines:          make([]estimateLineDTO, 0, len(est.Lines)),
		TotalCost:      est.TotalCost,
		SuggestedPrice: est.SuggestedPrice,
		CostPerPortion: est.CostPerPortion,
	}
	for _, l := range est.Lines {
		dto.Lines = append(dto.Lines, estimateLineDTO(l))
	}
	httpx.JSON(w, http.StatusOK, dto)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var short *inventory.InsufficientStockError
	if errors.As(err, &short) {
		body := shortageProblem{
			ProblemDetail: httpx.ProblemDetail{
				Title:  "Insufficient Stock",
				Status: http.StatusConflict,
				Detail: err.Error(),
			},
		}
		for _, s := range short.Shortages {
			body.Shortages = append(body.Shortages, shortageDTO(s))
		}
		httpx.JSON(w, http.StatusConflict, body)
		return
	}
	h.logger.Debug("production request failed", slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.BadRequest(w, "invalid id")
		return 0, false
	}
	return id, true
}
