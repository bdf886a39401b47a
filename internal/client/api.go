// Package client — клиентская часть BioCraft Studio: HTTP-транспорт к API,
// контекст аутентификации и контекст рецептов поверх него.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/session"
)

const (
	csrfHeader = "X-CSRF-Token"
	// сервер отвечает этим кодом и на отказ CSRF, и на прочие 403.
	codePermissionDenied = "permission_denied"
	csrfRejectMessage    = "CSRF token validation failed"
	// истёк access-токен; сессию можно продлить через /refresh.
	codeSessionExpired = "session_expired"
)

var (
	// ErrTimeout — запрос не уложился в отведённое время.
	ErrTimeout = errors.New("request timed out")
	// ErrNetwork — сервер недоступен (соединение, DNS и т.п.).
	ErrNetwork = errors.New("network error")
)

// TimeoutError сообщает, какой вызов и за какое время не успел.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timed out after %s", e.Op, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// APIError — ответ сервера со статусом ошибки и телом-конвертом.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// IsStatus сообщает, является ли err ответом сервера с данным статусом.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// Timeouts — ограничения времени по группам вызовов.
type Timeouts struct {
	Auth    time.Duration // login, signup, new-password
	Restore time.Duration // reset-password, session-restore, refresh
	Logout  time.Duration
	Recipes time.Duration // recipes, profile, change-password
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Auth:    15 * time.Second,
		Restore: 10 * time.Second,
		Logout:  5 * time.Second,
		Recipes: 10 * time.Second,
	}
}

type Option func(*API)

// WithHTTPClient подменяет http.Client; cookie jar добавляется, если его нет.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.http = c }
}

func WithTimeouts(t Timeouts) Option {
	return func(a *API) { a.timeouts = t }
}

// API — транспорт к серверу. Сессия живёт в cookie jar, CSRF-токен
// запоминается из заголовка каждого ответа.
type API struct {
	base     *url.URL
	http     *http.Client
	timeouts Timeouts

	mu   sync.Mutex
	csrf string
}

func NewAPI(baseURL string, opts ...Option) (*API, error) {
	const op = "client.NewAPI"

	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("%s: unsupported scheme %q", op, base.Scheme)
	}

	a := &API{base: base, timeouts: DefaultTimeouts()}
	for _, o := range opts {
		o(a)
	}

	if a.http == nil {
		a.http = &http.Client{}
	}
	if a.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		a.http.Jar = jar
	}

	return a, nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type sessionResponse struct {
	Message string                `json:"message"`
	Session models.SessionSummary `json:"session"`
}

type userResponse struct {
	Message string          `json:"message"`
	User    models.Identity `json:"user"`
}

type recipeResponse struct {
	Message string              `json:"message"`
	Recipe  *models.SavedRecipe `json:"recipe"`
}

type recipesResponse struct {
	Recipes []models.SavedRecipe `json:"recipes"`
}

type profileResponse struct {
	Message string          `json:"message"`
	Profile *models.Profile `json:"profile"`
}

// SignUp регистрирует пользователя. confirm может быть nil.
func (a *API) SignUp(ctx context.Context, email, password string, confirm *string) (*models.Identity, error) {
	in := map[string]any{"email": email, "password": password}
	if confirm != nil {
		in["confirmPassword"] = *confirm
	}

	var out userResponse
	if _, err := a.do(ctx, "signup", http.MethodPost, "/signup", a.timeouts.Auth, in, &out); err != nil {
		return nil, err
	}

	return &out.User, nil
}

func (a *API) Login(ctx context.Context, email, password string, remember bool) (*models.SessionSummary, error) {
	in := map[string]any{"email": email, "password": password, "remember": remember}

	var out sessionResponse
	if _, err := a.do(ctx, "login", http.MethodPost, "/login", a.timeouts.Auth, in, &out); err != nil {
		return nil, err
	}

	return &out.Session, nil
}

// SignOut отзывает сессию на сервере. cookies — снятые ClearSession
// cookie сессии; без них сервер не узнает, какой refresh-токен отозвать.
func (a *API) SignOut(ctx context.Context, cookies ...*http.Cookie) error {
	_, err := a.doWith(ctx, "signout", http.MethodPost, "/signout", a.timeouts.Logout, nil, nil, cookies)
	return err
}

// ClearSession удаляет cookie сессии из jar и сбрасывает CSRF-токен.
// Возвращает удалённые cookie.
func (a *API) ClearSession() []*http.Cookie {
	var removed []*http.Cookie
	for _, ck := range a.http.Jar.Cookies(a.base) {
		if ck.Name == session.CookieSession || ck.Name == session.CookieStatus {
			removed = append(removed, &http.Cookie{Name: ck.Name, Value: ck.Value})
		}
	}

	a.http.Jar.SetCookies(a.base, []*http.Cookie{
		{Name: session.CookieSession, Path: "/", MaxAge: -1},
		{Name: session.CookieStatus, Path: "/", MaxAge: -1},
	})
	a.setToken("")

	return removed
}

func (a *API) Refresh(ctx context.Context) (*models.SessionSummary, error) {
	var out sessionResponse
	if _, err := a.do(ctx, "refresh", http.MethodPost, "/refresh", a.timeouts.Restore, nil, &out); err != nil {
		return nil, err
	}

	return &out.Session, nil
}

// Session проверяет текущую сессию на сервере.
func (a *API) Session(ctx context.Context) (*models.SessionSummary, error) {
	var out sessionResponse
	if _, err := a.do(ctx, "session", http.MethodGet, "/user/session", a.timeouts.Restore, nil, &out); err != nil {
		return nil, err
	}

	return &out.Session, nil
}

func (a *API) ResetPassword(ctx context.Context, email string) (string, error) {
	var out messageResponse
	in := map[string]string{"email": email}
	if _, err := a.do(ctx, "reset_password", http.MethodPost, "/reset-password", a.timeouts.Restore, in, &out); err != nil {
		return "", err
	}

	return out.Message, nil
}

func (a *API) NewPassword(ctx context.Context, password, token string) (string, error) {
	var out messageResponse
	in := map[string]string{"password": password, "token": token}
	if _, err := a.do(ctx, "new_password", http.MethodPost, "/new-password", a.timeouts.Auth, in, &out); err != nil {
		return "", err
	}

	return out.Message, nil
}

func (a *API) ChangePassword(ctx context.Context, current, next string) (string, error) {
	var out messageResponse
	in := map[string]string{"current_password": current, "new_password": next}
	if _, err := a.do(ctx, "change_password", http.MethodPost, "/user/change-password", a.timeouts.Recipes, in, &out); err != nil {
		return "", err
	}

	return out.Message, nil
}

func (a *API) Profile(ctx context.Context) (*models.Profile, error) {
	var out profileResponse
	if _, err := a.do(ctx, "profile", http.MethodGet, "/user/profile", a.timeouts.Recipes, nil, &out); err != nil {
		return nil, err
	}

	return out.Profile, nil
}

func (a *API) ListRecipes(ctx context.Context) ([]models.SavedRecipe, error) {
	var out recipesResponse
	if _, err := a.do(ctx, "list_recipes", http.MethodGet, "/user/recipes", a.timeouts.Recipes, nil, &out); err != nil {
		return nil, err
	}

	if out.Recipes == nil {
		out.Recipes = []models.SavedRecipe{}
	}

	return out.Recipes, nil
}

// SaveRecipe сохраняет документ; created=false, если такой уже был.
func (a *API) SaveRecipe(ctx context.Context, doc json.RawMessage) (*models.SavedRecipe, bool, error) {
	var out recipeResponse
	in := map[string]json.RawMessage{"recipe": doc}

	status, err := a.do(ctx, "save_recipe", http.MethodPost, "/user/recipes", a.timeouts.Recipes, in, &out)
	if err != nil {
		return nil, false, err
	}

	return out.Recipe, status == http.StatusCreated, nil
}

func (a *API) GetRecipe(ctx context.Context, id uuid.UUID) (*models.SavedRecipe, error) {
	var out recipeResponse
	if _, err := a.do(ctx, "get_recipe", http.MethodGet, "/user/recipes/"+id.String(), a.timeouts.Recipes, nil, &out); err != nil {
		return nil, err
	}

	return out.Recipe, nil
}

func (a *API) UpdateRecipe(ctx context.Context, id uuid.UUID, doc json.RawMessage) (*models.SavedRecipe, error) {
	var out recipeResponse
	in := map[string]json.RawMessage{"recipe": doc}
	if _, err := a.do(ctx, "update_recipe", http.MethodPut, "/user/recipes/"+id.String(), a.timeouts.Recipes, in, &out); err != nil {
		return nil, err
	}

	return out.Recipe, nil
}

func (a *API) DeleteRecipe(ctx context.Context, id uuid.UUID) error {
	_, err := a.do(ctx, "delete_recipe", http.MethodDelete, "/user/recipes/"+id.String(), a.timeouts.Recipes, nil, nil)
	return err
}

// CSRFToken возвращает текущий токен, запрашивая его при отсутствии.
func (a *API) CSRFToken(ctx context.Context) (string, error) {
	if tok := a.token(); tok != "" {
		return tok, nil
	}

	if _, err := a.do(ctx, "csrf_token", http.MethodGet, "/csrf-token", a.timeouts.Restore, nil, nil); err != nil {
		return "", err
	}

	tok := a.token()
	if tok == "" {
		return "", fmt.Errorf("client.CSRFToken: server returned no %s header", csrfHeader)
	}

	return tok, nil
}

func (a *API) token() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.csrf
}

func (a *API) setToken(tok string) {
	a.mu.Lock()
	a.csrf = tok
	a.mu.Unlock()
}

func mutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func (a *API) do(ctx context.Context, op, method, path string, timeout time.Duration, in, out any) (int, error) {
	return a.doWith(ctx, op, method, path, timeout, in, out, nil)
}

// doWith выполняет вызов с собственным таймаутом. Отказ CSRF (устаревший
// токен после перезапуска сервера) повторяется один раз со свежим токеном.
// Истёкший access-токен продлевается через /refresh, и вызов повторяется один раз.
func (a *API) doWith(ctx context.Context, op, method, path string, timeout time.Duration, in, out any, cookies []*http.Cookie) (int, error) {
	var body []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = raw
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status, err := a.roundTrip(ctx, op, method, path, timeout, body, out, cookies)
	if mutating(method) && isCSRFReject(err) {
		a.setToken("")
		status, err = a.roundTrip(ctx, op, method, path, timeout, body, out, cookies)
	}

	if path != "/refresh" && isSessionExpired(err) {
		if _, rerr := a.roundTrip(ctx, op, http.MethodPost, "/refresh", timeout, nil, nil, nil); rerr == nil {
			status, err = a.roundTrip(ctx, op, method, path, timeout, body, out, cookies)
		}
	}

	return status, err
}

func isSessionExpired(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Status == http.StatusUnauthorized &&
		apiErr.Code == codeSessionExpired
}

func isCSRFReject(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) &&
		apiErr.Status == http.StatusForbidden &&
		apiErr.Code == codePermissionDenied &&
		apiErr.Message == csrfRejectMessage
}

func (a *API) roundTrip(ctx context.Context, op, method, path string, timeout time.Duration, body []byte, out any, cookies []*http.Cookie) (int, error) {
	if mutating(method) && a.token() == "" {
		if err := a.fetchToken(ctx, op, timeout); err != nil {
			return 0, err
		}
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base.String()+path, rd)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := a.token(); tok != "" && mutating(method) {
		req.Header.Set(csrfHeader, tok)
	}
	for _, ck := range cookies {
		req.AddCookie(ck)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, transportErr(ctx, op, timeout, err)
	}
	defer resp.Body.Close()

	if tok := resp.Header.Get(csrfHeader); tok != "" {
		a.setToken(tok)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, transportErr(ctx, op, timeout, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return resp.StatusCode, apiErr
	}

	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}

	return resp.StatusCode, nil
}

func (a *API) fetchToken(ctx context.Context, op string, timeout time.Duration) error {
	if _, err := a.roundTrip(ctx, op, http.MethodGet, "/csrf-token", timeout, nil, nil, nil); err != nil {
		return err
	}

	if a.token() == "" {
		return fmt.Errorf("%s: server returned no %s header", op, csrfHeader)
	}

	return nil
}

// transportErr разводит таймаут и сетевую ошибку. Отмена вызывающим
// контекстом возвращается как есть.
func transportErr(ctx context.Context, op string, timeout time.Duration, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Timeout: timeout}
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}

	return fmt.Errorf("%s: %w: %v", op, ErrNetwork, err)
}
