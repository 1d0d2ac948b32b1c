package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/pitchday/internal/model"
)

// IdentityResolver はメールアドレスから投資家を引くためのインターフェース。
type IdentityResolver interface {
	ResolveByEmail(ctx context.Context, email string) (*model.Identity, error)
}

// IdentityHandler は投資家検索のHTTPハンドラー。
type IdentityHandler struct {
	resolver IdentityResolver
}

// NewIdentityHandler はIdentityHandlerを生成する。
func NewIdentityHandler(resolver IdentityResolver) *IdentityHandler {
	return &IdentityHandler{resolver: resolver}
}

// GetByEmail はメールアドレスに対応する投資家を返す。見つからなければ404。
// GET /api/identities?email=
func (h *IdentityHandler) GetByEmail(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		handleServiceError(w, model.NewInvalidRequestError("emailを指定してください。"))
		return
	}

	ident, err := h.resolver.ResolveByEmail(r.Context(), email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if ident == nil {
		handleServiceError(w, model.NewIdentityNotFoundError())
		return
	}

	writeJSON(w, http.StatusOK, ident)
}
