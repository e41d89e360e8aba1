// auth.go — JWT middleware DOI Registrar.
// Проверяет подпись токена по JWKS Keycloak, определяет тип субъекта
// (User / Service Account) и права: чтение (pids:read) или изменение
// жизненного цикла DOI (pids:write). При пустом DR_JWT_JWKS_URL не подключается.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/doi-registrar/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyClaims — извлечённые claims в контексте запроса.
const ContextKeyClaims contextKey = "jwt_claims"

// SubjectType — тип субъекта JWT.
type SubjectType string

const (
	// SubjectTypeUser — пользователь (OIDC).
	SubjectTypeUser SubjectType = "user"
	// SubjectTypeSA — Service Account (Client Credentials).
	SubjectTypeSA SubjectType = "service_account"
)

// Роли пользователей.
const (
	RoleReadonly = "readonly"
	RoleAdmin    = "admin"
)

// Scopes Service Account.
const (
	ScopePIDsRead  = "pids:read"
	ScopePIDsWrite = "pids:write"
)

// roleWeight — вес роли для сравнения.
var roleWeight = map[string]int{
	RoleReadonly: 1,
	RoleAdmin:    2,
}

// AuthClaims — обработанные claims из JWT.
type AuthClaims struct {
	Subject           string
	SubjectType       SubjectType
	PreferredUsername string
	// EffectiveRole — роль пользователя из групп или realm_access (admin, readonly, "")
	EffectiveRole string
	// Scopes — scopes Service Account
	Scopes   []string
	ClientID string
}

// HasAnyRole проверяет, совпадает ли роль с одной из указанных.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	return slices.Contains(roles, c.EffectiveRole)
}

// HasAnyScope проверяет наличие хотя бы одного из указанных scopes.
func (c *AuthClaims) HasAnyScope(scopes ...string) bool {
	for _, scope := range scopes {
		if slices.Contains(c.Scopes, scope) {
			return true
		}
	}
	return false
}

// keycloakClaims — raw claims из Keycloak JWT.
type keycloakClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       *struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
	Groups   []string `json:"groups,omitempty"`
	Scope    string   `json:"scope,omitempty"`
	ClientID string   `json:"client_id,omitempty"`
}

// JWTAuth — middleware JWT-аутентификации через JWKS.
type JWTAuth struct {
	jwks           keyfunc.Keyfunc
	logger         *slog.Logger
	adminGroups    []string
	readonlyGroups []string
	issuer         string
	jwtLeeway      time.Duration
	// cancel останавливает фоновое обновление JWKS (nil для keyfunc из тестов)
	cancel context.CancelFunc
}

// NewJWTAuth создаёт JWT middleware с JWKS из Keycloak.
// JWKS обновляется в фоне; первый неудачный запрос не мешает старту.
func NewJWTAuth(
	jwksURL string,
	caCertPath string,
	issuer string,
	adminGroups, readonlyGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	httpClient := &http.Client{Timeout: jwksClientTimeout}
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, jwksClientTimeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		Ctx:                       ctx,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Ctx: ctx, Storage: storage})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	auth := NewJWTAuthWithKeyfunc(k, issuer, adminGroups, readonlyGroups, logger)
	auth.jwtLeeway = jwtLeeway
	auth.cancel = cancel
	return auth, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовым keyfunc (для тестов).
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	adminGroups, readonlyGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:           kf,
		logger:         logger.With(slog.String("component", "jwt_auth")),
		adminGroups:    adminGroups,
		readonlyGroups: readonlyGroups,
		issuer:         issuer,
	}
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: caCertPool},
		},
	}, nil
}

// Middleware возвращает HTTP middleware: Bearer token → проверка RS256 → claims в контексте.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}
			if tokenString == "" {
				apierrors.Unauthorized(w, "Пустой Bearer token")
				return
			}

			rawClaims := &keycloakClaims{}
			parserOpts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			}
			if j.issuer != "" {
				parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
			}

			token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
			if err != nil || !token.Valid {
				j.logger.Debug("JWT валидация не пройдена",
					slog.Any("error", err),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			if subject, err := rawClaims.GetSubject(); err != nil || subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyClaims, j.buildAuthClaims(rawClaims))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildAuthClaims определяет тип субъекта и его права.
// Service Account имеет client_id и scope, пользователь — группы и realm_access.roles.
func (j *JWTAuth) buildAuthClaims(raw *keycloakClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
	}

	if raw.ClientID != "" && raw.Scope != "" {
		claims.SubjectType = SubjectTypeSA
		claims.ClientID = raw.ClientID
		claims.Scopes = strings.Fields(raw.Scope)
		return claims
	}

	claims.SubjectType = SubjectTypeUser
	claims.EffectiveRole = mapGroupsToRole(raw.Groups, j.adminGroups, j.readonlyGroups)
	if claims.EffectiveRole == "" && raw.RealmAccess != nil {
		var validRoles []string
		for _, r := range raw.RealmAccess.Roles {
			if _, ok := roleWeight[r]; ok {
				validRoles = append(validRoles, r)
			}
		}
		claims.EffectiveRole = highestRole(validRoles)
	}
	return claims
}

// mapGroupsToRole определяет роль пользователя по группам IdP.
func mapGroupsToRole(groups, adminGroups, readonlyGroups []string) string {
	var roles []string
	for _, g := range groups {
		if slices.Contains(adminGroups, g) {
			roles = append(roles, RoleAdmin)
		}
		if slices.Contains(readonlyGroups, g) {
			roles = append(roles, RoleReadonly)
		}
	}
	return highestRole(roles)
}

// highestRole возвращает максимальную роль из набора.
func highestRole(roles []string) string {
	highest := ""
	for _, r := range roles {
		if roleWeight[r] > roleWeight[highest] {
			highest = r
		}
	}
	return highest
}

// Close останавливает фоновое обновление JWKS.
func (j *JWTAuth) Close() {
	if j.cancel != nil {
		j.cancel()
	}
}

// --- RBAC ---

// RequireRead пропускает пользователей admin/readonly и SA со scope pids:read или pids:write.
func RequireRead() func(http.Handler) http.Handler {
	return RequireRoleOrScope(
		[]string{RoleAdmin, RoleReadonly},
		[]string{ScopePIDsRead, ScopePIDsWrite},
	)
}

// RequireWrite пропускает пользователей admin и SA со scope pids:write.
func RequireWrite() func(http.Handler) http.Handler {
	return RequireRoleOrScope([]string{RoleAdmin}, []string{ScopePIDsWrite})
}

// RequireRoleOrScope пропускает пользователей с одной из ролей
// или Service Accounts с одним из scopes. Используется после JWTAuth.Middleware().
func RequireRoleOrScope(roles, scopes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			switch claims.SubjectType {
			case SubjectTypeUser:
				if claims.HasAnyRole(roles...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))

			case SubjectTypeSA:
				if claims.HasAnyScope(scopes...) {
					next.ServeHTTP(w, r)
					return
				}
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется scope %s", strings.Join(scopes, " или ")))

			default:
				apierrors.Forbidden(w, "Неизвестный тип субъекта")
			}
		})
	}
}

// ClaimsFromContext извлекает AuthClaims из контекста (nil, если их нет).
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext — sub из контекста или пустая строка.
func SubjectFromContext(ctx context.Context) string {
	if claims := ClaimsFromContext(ctx); claims != nil {
		return claims.Subject
	}
	return ""
}

// --- ReadinessChecker для JWKS ---

// JWKSReadinessChecker — проверка доступности JWKS endpoint.
type JWKSReadinessChecker struct {
	jwksURL string
	client  *http.Client
}

// NewJWKSReadinessChecker создаёт checker доступности JWKS.
func NewJWKSReadinessChecker(jwksURL, caCertPath string, timeout time.Duration) (*JWKSReadinessChecker, error) {
	client := &http.Client{Timeout: timeout}
	if caCertPath != "" {
		var err error
		client, err = httpClientWithCA(caCertPath, timeout)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA для readiness checker: %w", err)
		}
	}
	return &JWKSReadinessChecker{jwksURL: jwksURL, client: client}, nil
}

// CheckReady проверяет, что JWKS отвечает 200 и содержит ключи.
func (k *JWKSReadinessChecker) CheckReady() (status, message string) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, k.jwksURL, http.NoBody)
	if err != nil {
		return "fail", "ошибка создания запроса: " + err.Error()
	}
	resp, err := k.client.Do(req) //nolint:gosec // G704: URL из конфигурации
	if err != nil {
		return "fail", fmt.Sprintf("JWKS недоступен: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "fail", fmt.Sprintf("JWKS вернул статус %d", resp.StatusCode)
	}

	var jwksResp struct {
		Keys []json.RawMessage `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwksResp); err != nil {
		return "degraded", fmt.Sprintf("JWKS: невалидный JSON: %v", err)
	}
	if len(jwksResp.Keys) == 0 {
		return "degraded", "JWKS: нет ключей"
	}
	return "ok", fmt.Sprintf("JWKS доступен, ключей: %d", len(jwksResp.Keys))
}
