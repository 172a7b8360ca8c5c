package http

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type identityKey struct{}

// StaticTokenProvider сопоставляет заранее выданные токены пользователям.
type StaticTokenProvider struct {
	identities map[string]domain.Identity
}

// ParseStaticTokens разбирает строку вида "token=userId:email,token2=userId2:email2".
func ParseStaticTokens(raw string) (*StaticTokenProvider, error) {
	provider := &StaticTokenProvider{identities: make(map[string]domain.Identity)}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		token, subject, ok := strings.Cut(entry, "=")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			return nil, fmt.Errorf("invalid auth token entry %q: expected token=userId:email", entry)
		}

		userID, email, _ := strings.Cut(subject, ":")
		userID = strings.TrimSpace(userID)
		if userID == "" {
			return nil, fmt.Errorf("invalid auth token entry %q: empty user id", entry)
		}

		provider.identities[token] = domain.Identity{UserID: userID, Email: strings.TrimSpace(email)}
	}

	return provider, nil
}

// NewStaticTokenProvider создаёт провайдер из готовой таблицы токенов.
func NewStaticTokenProvider(identities map[string]domain.Identity) *StaticTokenProvider {
	copied := make(map[string]domain.Identity, len(identities))
	for token, identity := range identities {
		copied[token] = identity
	}
	return &StaticTokenProvider{identities: copied}
}

// Len возвращает число известных токенов.
func (p *StaticTokenProvider) Len() int {
	return len(p.identities)
}

// Authenticate реализует domain.IdentityProvider.
func (p *StaticTokenProvider) Authenticate(_ context.Context, token string) (domain.Identity, error) {
	identity, ok := p.identities[token]
	if !ok {
		return domain.Identity{}, domain.NewError(domain.ErrUnauthenticated, "Invalid or missing token")
	}
	return identity, nil
}

// authenticate требует заголовок Authorization: Bearer <token>.
func authenticate(provider domain.IdentityProvider) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, token, ok := strings.Cut(header, " ")
			token = strings.TrimSpace(token)
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				respondMessage(w, http.StatusUnauthorized, "Invalid or missing token")
				return
			}

			identity, err := provider.Authenticate(r.Context(), token)
			if err != nil {
				status, body := errorEnvelope(err, "Authentication failed")
				respondJSON(w, status, body)
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext возвращает вызывающего, установленного middleware аутентификации.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(domain.Identity)
	return identity, ok
}

var _ domain.IdentityProvider = (*StaticTokenProvider)(nil)
