package token

import (
	"strings"
)

// Registry 保存贡献者令牌到显示名的映射。
// 令牌是静态配置的不透明字符串，没有更复杂的鉴权语义。
type Registry struct {
	names map[string]string
}

func NewRegistry(tokens map[string]string) *Registry {
	names := make(map[string]string, len(tokens))
	for tok, name := range tokens {
		trimmedTok := strings.TrimSpace(tok)
		trimmedName := strings.TrimSpace(name)
		if trimmedTok == "" || trimmedName == "" {
			continue
		}
		names[trimmedTok] = trimmedName
	}
	return &Registry{names: names}
}

// Valid 判断令牌是否属于已知贡献者。
func (r *Registry) Valid(tok string) bool {
	_, ok := r.names[tok]
	return ok
}

// DisplayName 返回令牌对应的贡献者显示名。
func (r *Registry) DisplayName(tok string) (string, bool) {
	name, ok := r.names[tok]
	return name, ok
}

// TokenFor 反查显示名对应的令牌，巡检时用来把收件箱目录归回贡献者。
func (r *Registry) TokenFor(displayName string) (string, bool) {
	for tok, name := range r.names {
		if name == displayName {
			return tok, true
		}
	}
	return "", false
}
