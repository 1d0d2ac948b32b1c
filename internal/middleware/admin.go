package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/pitchday/internal/model"
)

// IdentityFinder は投資家の検索に必要なインターフェース。
// repository.IdentityRepositoryの部分集合として定義する。
type IdentityFinder interface {
	FindByID(ctx context.Context, id string) (*model.Identity, error)
}

// NewAdminMiddleware は管理者メールアドレスの許可リストで管理画面へのアクセスを制限するミドルウェアを返す。
// セッションミドルウェアの後に配置する。メールアドレスは大文字小文字を区別しない。
func NewAdminMiddleware(identities IdentityFinder, adminEmails []string) func(next http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(adminEmails))
	for _, email := range adminEmails {
		if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
			allowed[e] = struct{}{}
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			ident, err := identities.FindByID(r.Context(), userID)
			if err != nil {
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError(err))
				return
			}

			if ident == nil {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}
			if _, ok := allowed[strings.ToLower(strings.TrimSpace(ident.Email))]; !ok {
				slog.Warn("admin access denied",
					slog.String("user_id", userID),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
