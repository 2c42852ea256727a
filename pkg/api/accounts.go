package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shunichi-ikebuchi/ledger-engine/pkg/account"
)

// AccountsHandler handles account endpoints.
type AccountsHandler struct {
	store *account.Store
}

// NewAccountsHandler creates a new AccountsHandler.
func NewAccountsHandler(s *account.Store) *AccountsHandler {
	return &AccountsHandler{store: s}
}

type createAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// List handles GET /accounts.
func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListOwned(r.Context(), ownerFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if accounts == nil {
		accounts = []account.Account{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

// Create handles POST /accounts.
func (h *AccountsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	acc, err := h.store.Create(r.Context(), account.CreateInput{
		OwnerID:  ownerFrom(r),
		Name:     req.Name,
		Currency: req.Currency,
	})
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"account": acc})
}

// Get handles GET /accounts/{id}.
func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	acc, err := h.store.FindOwned(r.Context(), nil, chi.URLParam(r, "id"), ownerFrom(r))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"account": acc})
}

// Deactivate handles POST /accounts/{id}/deactivate.
func (h *AccountsHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Deactivate(r.Context(), chi.URLParam(r, "id"), ownerFrom(r)); err != nil {
		writeDomainError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
