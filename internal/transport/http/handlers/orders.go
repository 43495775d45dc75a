package http_handlers

import (
	"net/http"

	"github.com/pantrylab/pantryd/internal/application/ordering"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/storefront"
	"github.com/pantrylab/pantryd/internal/transport/http/dto"
	"github.com/pantrylab/pantryd/internal/transport/http/middleware"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// OrdersHandler runs the ordering pipeline for the session user. The
// storefront session is keyed by the account email.
type OrdersHandler struct {
	pipeline *ordering.Pipeline
}

func NewOrdersHandler(pipeline *ordering.Pipeline) *OrdersHandler {
	return &OrdersHandler{pipeline: pipeline}
}

// Run executes one ordering run. Partial item failures come back in the
// report; run-level failures (no session, nothing added, store closed)
// surface as errors alongside however far the report got.
func (h *OrdersHandler) Run(w http.ResponseWriter, r *http.Request) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return
	}

	var req dto.OrderRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	items := make([]storefront.Item, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, storefront.Item{Name: it.Name, Quantity: it.Quantity, Unit: it.Unit})
	}

	report, err := h.pipeline.Run(r.Context(), ordering.Request{
		Username: info.Email,
		RawList:  req.RawList,
		Items:    items,
		Checkout: req.Checkout,
	})
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewOrderReportView(report))
}
