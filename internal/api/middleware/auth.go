// auth.go — JWT middleware для аутентификации и авторизации.
// Использует RS256 + JWKS для валидации токенов платформы.
// Claims: sub (subject), scopes (массив строк).
// Публичные endpoints (health, metrics, download по подписанной ссылке) —
// без аутентификации.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/MSAlpaka/SilentOakRanch-sub000/internal/api/errors"
	"github.com/MSAlpaka/SilentOakRanch-sub000/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySubject — ключ для sub из JWT в контексте запроса.
	ContextKeySubject contextKey = "jwt_subject"
	// ContextKeyScopes — ключ для scopes из JWT в контексте запроса.
	ContextKeyScopes contextKey = "jwt_scopes"
)

// Scopes доступа Contract Module.
const (
	// ScopeContractsRead — чтение договоров и результатов проверки.
	ScopeContractsRead = "contracts:read"
	// ScopeContractsWrite — формирование и подписание договоров.
	ScopeContractsWrite = "contracts:write"
	// ScopeAuditRead — чтение журнала аудита.
	ScopeAuditRead = "audit:read"
)

// Claims — структура JWT claims Contract Module.
// Поддерживает два формата scopes:
//   - стандартный OAuth2: "scope" (пробело-разделённая строка)
//   - кастомный: "scopes" (массив строк)
type Claims struct {
	jwt.RegisteredClaims
	// ScopeString — стандартный OAuth2 claim (пробело-разделённая строка)
	ScopeString string `json:"scope"`
	// ScopeArray — кастомный claim (массив строк), альтернативный формат
	ScopeArray []string `json:"scopes"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	var result []string
	if c.ScopeString != "" {
		result = append(result, strings.Split(c.ScopeString, " ")...)
	}
	result = append(result, c.ScopeArray...)
	return result
}

// JWTAuth — middleware для JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	issuer    string
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// URL JWKS endpoint (CM_JWT_JWKS_URL)
	JWKSURL string
	// Ожидаемый issuer токена (пустая строка — не проверяется)
	Issuer string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware с JWKS из указанного URL.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: authCfg.ClientTimeout}

	// NoErrorReturnFirstHTTPReq позволяет стартовать даже если JWKS endpoint
	// ещё недоступен (например, при одновременном запуске pod-ов).
	storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           authCfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", authCfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &JWTAuth{
		jwks:      k,
		issuer:    authCfg.Issuer,
		jwtLeeway: authCfg.JWTLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}, nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:      kf,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, валидирует подпись (RS256),
// проверяет exp/nbf (и issuer, если настроен), помещает sub и scopes
// в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			tokenString := parts[1]
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			parseOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parseOpts = append(parseOpts, jwt.WithIssuer(j.issuer))
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.jwks.KeyfuncCtx(r.Context()), parseOpts...)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Невалидный токен")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, claims.Scopes())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope возвращает middleware, проверяющий наличие указанного scope.
// Если scope отсутствует — возвращает 403 Forbidden.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, ok := r.Context().Value(ContextKeyScopes).([]string)
			if !ok {
				apierrors.Forbidden(w, "Отсутствуют scopes в токене")
				return
			}

			for _, s := range scopes {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// ScopesFromContext извлекает scopes из контекста запроса.
// Возвращает nil, если scopes не найдены.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}

// ActorFromRequest собирает данные о действующем субъекте для журнала
// аудита: sub из JWT (если есть) и IP клиента. Явный параметр вместо
// глобального ambient-контекста.
func ActorFromRequest(r *http.Request) *model.Actor {
	return &model.Actor{
		Subject: SubjectFromContext(r.Context()),
		IP:      clientIP(r),
	}
}

// clientIP возвращает IP клиента: X-Forwarded-For от доверенного
// прокси, иначе RemoteAddr без порта.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.IndexByte(xff, ','); idx >= 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
