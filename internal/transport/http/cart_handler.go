package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	cart, err := h.carts.Get(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, r, err, "Error fetching cart")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Data: toCartDTO(cart)})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req addCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err, "Error adding item to cart")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.UpsertItem(r.Context(), identity.UserID, req.ProductID, quantity)
	if err != nil {
		h.respondError(w, r, err, "Error adding item to cart")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Message: "Item added to cart", Data: toCartDTO(cart)})
}

func (h *Handler) updateCartItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var req updateCartItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err, "Error updating cart")
		return
	}

	cart, err := h.carts.UpdateQuantity(r.Context(), identity.UserID, chi.URLParam(r, "productId"), req.Quantity)
	if err != nil {
		h.respondError(w, r, err, "Error updating cart")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Message: "Cart updated", Data: toCartDTO(cart)})
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	cart, err := h.carts.RemoveItem(r.Context(), identity.UserID, chi.URLParam(r, "productId"))
	if err != nil {
		h.respondError(w, r, err, "Error removing item from cart")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Message: "Item removed from cart", Data: toCartDTO(cart)})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	cart, err := h.carts.Clear(r.Context(), identity.UserID)
	if err != nil {
		h.respondError(w, r, err, "Error clearing cart")
		return
	}
	respondJSON(w, http.StatusOK, envelope{Success: true, Message: "Cart cleared", Data: toCartDTO(cart)})
}
