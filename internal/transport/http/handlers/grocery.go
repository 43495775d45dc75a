package http_handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pantrylab/pantryd/internal/application/grocery"
	"github.com/pantrylab/pantryd/internal/domain"
	"github.com/pantrylab/pantryd/internal/transport/http/dto"
	"github.com/pantrylab/pantryd/internal/transport/http/middleware"
	"github.com/pantrylab/pantryd/internal/transport/http/response"
)

// GroceryHandler serves per-user grocery lists. All routes sit behind
// the auth middleware; the list owner is always the session user.
type GroceryHandler struct {
	svc *grocery.Service
}

func NewGroceryHandler(svc *grocery.Service) *GroceryHandler {
	return &GroceryHandler{svc: svc}
}

func (h *GroceryHandler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	info, ok := middleware.SessionFrom(r.Context())
	if !ok {
		response.WriteError(w, r, domain.ErrTokenInvalid())
		return "", false
	}
	return info.UserID, true
}

func (h *GroceryHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req dto.GroceryCreateRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	list, err := h.svc.Create(r.Context(), userID, req.Name, req.DomainItems())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.Created(w, dto.NewGroceryListView(list))
}

func (h *GroceryHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	lists, err := h.svc.List(r.Context(), userID)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewGroceryListViews(lists))
}

func (h *GroceryHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	list, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "name"))
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewGroceryListView(list))
}

// Update replaces the list's items at the stated version. A stale
// version gets a 409 with the current state left untouched.
func (h *GroceryHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req dto.GroceryUpdateRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	list, err := h.svc.Update(r.Context(), userID, chi.URLParam(r, "name"), req.DomainItems(), req.ExpectedVersion)
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewGroceryListView(list))
}

func (h *GroceryHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req dto.GroceryAddItemRequest
	if err := response.DecodeJSON(r, &req); err != nil {
		response.WriteError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		response.WriteError(w, r, err)
		return
	}

	list, err := h.svc.AddItem(r.Context(), userID, chi.URLParam(r, "name"), req.Item.Domain())
	if err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.OK(w, dto.NewGroceryListView(list))
}

func (h *GroceryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), userID, chi.URLParam(r, "name")); err != nil {
		response.WriteError(w, r, err)
		return
	}
	response.NoContent(w)
}
