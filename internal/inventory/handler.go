package inventory

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sistemagestao/sistemagestao/internal/platform/httpx"
	"github.com/sistemagestao/sistemagestao/internal/units"
)

// Handler exposes read-only stock endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/products/{id}", func(r chi.Router) {
		r.Get("/stock", h.showStock)
		r.Get("/movements", h.listMovements)
	})
}

type stockResponse struct {
	ProductID int64      `json:"productId"`
	Name      string     `json:"name"`
	Unit      units.Unit `json:"unit"`
	RawUnit   string     `json:"rawUnit,omitempty"`
	Quantity  float64    `json:"quantity"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type movementResponse struct {
	ID            int64        `json:"id"`
	Type          MovementType `json:"type"`
	Qty           float64      `json:"qty"`
	BalanceBefore float64      `json:"balanceBefore"`
	BalanceAfter  float64      `json:"balanceAfter"`
	RefModule     string       `json:"refModule,omitempty"`
	RefID         string       `json:"refId,omitempty"`
	Note          string       `json:"note,omitempty"`
	PostedAt      time.Time    `json:"postedAt"`
}

func (h *Handler) showStock(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.logger.Warn("load stock", slog.Int64("product_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{
		ProductID: p.ID,
		Name:      p.Name,
		Unit:      p.Unit,
		RawUnit:   p.RawUnit,
		Quantity:  p.Quantity,
		UpdatedAt: p.UpdatedAt,
	})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	filter := MovementFilter{ProductID: id}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.BadRequest(w, "from must be RFC3339")
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.BadRequest(w, "to must be RFC3339")
			return
		}
		filter.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpx.BadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	rows, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(rows))
	for _, mv := range rows {
		out = append(out, movementResponse{
			ID:            mv.ID,
			Type:          mv.Type,
			Qty:           mv.Qty,
			BalanceBefore: mv.BalanceBefore,
			BalanceAfter:  mv.BalanceAfter,
			RefModule:     mv.RefModule,
			RefID:         mv.RefID,
			Note:          mv.Note,
			PostedAt:      mv.PostedAt,
		})
	}
	httpx.JSON(w, http.StatusOK, out)
}

func productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.BadRequest(w, "invalid product id")
		return 0, false
	}
	return id, true
}
