package identity

import (
	"github.com/samber/lo"

	"github.com/hitoshi/pitchday/internal/model"
)

// Canonicalize は同一人物の複数レコードから代表レコードを選ぶ。
// lastActiveが最も新しいものを採用し、同時刻の場合は先に現れたものを残す。
func Canonicalize(identities []*model.Identity) *model.Identity {
	var canonical *model.Identity
	for _, ident := range identities {
		if ident == nil {
			continue
		}
		if canonical == nil || ident.LastActive.After(canonical.LastActive) {
			canonical = ident
		}
	}
	return canonical
}

// GroupByEmail は正規化済みメールアドレスごとにレコードをまとめる。
// メールアドレスが空のレコードはIDをキーとして単独のグループにする。
func GroupByEmail(identities []*model.Identity) map[string][]*model.Identity {
	valid := lo.Filter(identities, func(ident *model.Identity, _ int) bool {
		return ident != nil
	})
	return lo.GroupBy(valid, func(ident *model.Identity) string {
		if email := NormalizeEmail(ident.Email); email != "" {
			return email
		}
		return "id:" + ident.ID
	})
}
