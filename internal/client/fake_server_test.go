package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pribylovaa/biocraft-studio/internal/client/localstore"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/session"
	"github.com/stretchr/testify/require"
)

// Значения cookie сессии у фейкового сервера.
const (
	sessionValid = "ok"
	// sessionStale — access-токен истёк, refresh ещё действует.
	sessionStale = "stale"
)

var testUser = models.Identity{
	ID:    uuid.MustParse("7f0c2b7e-9a44-4a57-9d0f-0d7c1c0d8a11"),
	Email: "ada@example.com",
	Role:  "user",
}

// fakeServer — минимальная имитация API: CSRF в заголовке, сессия в cookie.
type fakeServer struct {
	srv *httptest.Server

	mu         sync.Mutex
	token      string
	calls      map[string]int
	delay      time.Duration
	sessionErr int // если не 0 — /user/session отвечает этим статусом
	refreshErr int
	recipes    []models.SavedRecipe
	// signedOut — cookie сессии, с которой пришёл последний /signout.
	signedOut string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	fs := &fakeServer{token: "tok-1", calls: make(map[string]int)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /csrf-token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "CSRF token set"})
	})
	mux.HandleFunc("POST /login", fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.Password != "Secret123" {
			writeErr(w, http.StatusUnauthorized, "unauthenticated", "Invalid login credentials")
			return
		}
		setSession(w, sessionValid)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Signed in successfully", "session": summary()})
	}))
	mux.HandleFunc("POST /signup", fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusBadRequest, "invalid_argument", "Passwords do not match")
	}))
	mux.HandleFunc("POST /signout", fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		var got string
		if ck, err := r.Cookie(session.CookieSession); err == nil {
			got = ck.Value
		}
		fs.mu.Lock()
		fs.signedOut = got
		fs.mu.Unlock()

		http.SetCookie(w, &http.Cookie{Name: session.CookieSession, Value: "", Path: "/", MaxAge: -1})
		http.SetCookie(w, &http.Cookie{Name: session.CookieStatus, Value: "", Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]string{"message": "Signed out successfully"})
	}))
	mux.HandleFunc("POST /refresh", fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		status := fs.refreshErr
		fs.mu.Unlock()
		if status != 0 {
			writeErr(w, status, "unauthenticated", "Invalid session data")
			return
		}
		if ck, err := r.Cookie(session.CookieSession); err != nil || ck.Value == "" {
			writeErr(w, http.StatusUnauthorized, "unauthenticated", "No active session")
			return
		}
		setSession(w, sessionValid)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Session refreshed successfully", "session": summary()})
	}))
	mux.HandleFunc("GET /user/session", fs.authed(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		status := fs.sessionErr
		fs.mu.Unlock()
		if status != 0 {
			writeErr(w, status, "internal", "Internal server error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": summary()})
	}))
	mux.HandleFunc("GET /user/recipes", fs.authed(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		list := append([]models.SavedRecipe{}, fs.recipes...)
		fs.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"recipes": list})
	}))
	mux.HandleFunc("POST /user/recipes", fs.authed(fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Recipe models.RecipeDocument `json:"recipe"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Recipe.Name() == "" {
			writeErr(w, http.StatusBadRequest, "invalid_argument", "Recipe name is required")
			return
		}

		fs.mu.Lock()
		defer fs.mu.Unlock()
		for _, rec := range fs.recipes {
			if rec.RecipeData.Hash() == in.Recipe.Hash() {
				writeJSON(w, http.StatusOK, map[string]any{"message": "Recipe already saved", "recipe": rec})
				return
			}
		}
		rec := models.SavedRecipe{ID: uuid.New(), UserID: testUser.ID, RecipeName: in.Recipe.Name(), RecipeData: in.Recipe}
		fs.recipes = append([]models.SavedRecipe{rec}, fs.recipes...)
		writeJSON(w, http.StatusCreated, map[string]any{"message": "Recipe saved successfully", "recipe": rec})
	})))
	mux.HandleFunc("GET /user/recipes/{id}", fs.authed(func(w http.ResponseWriter, r *http.Request) {
		rec, ok := fs.find(r.PathValue("id"))
		if !ok {
			writeErr(w, http.StatusNotFound, "not_found", "Recipe not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipe": rec})
	}))
	mux.HandleFunc("DELETE /user/recipes/{id}", fs.authed(fs.guarded(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		for i, rec := range fs.recipes {
			if rec.ID.String() == r.PathValue("id") {
				fs.recipes = append(fs.recipes[:i], fs.recipes[i+1:]...)
				writeJSON(w, http.StatusOK, map[string]string{"message": "Recipe deleted successfully"})
				return
			}
		}
		writeErr(w, http.StatusNotFound, "not_found", "Recipe not found")
	})))

	fs.srv = httptest.NewServer(fs.count(fs.slow(fs.issue(mux))))
	t.Cleanup(fs.srv.Close)

	return fs
}

func setSession(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{Name: session.CookieSession, Value: value, Path: "/", HttpOnly: true})
	http.SetCookie(w, &http.Cookie{Name: session.CookieStatus, Value: "1", Path: "/"})
}

func summary() models.SessionSummary {
	return models.SessionSummary{User: testUser, ExpiresIn: 3600, ExpiresAt: time.Now().Add(time.Hour).Unix()}
}

func (fs *fakeServer) find(id string) (models.SavedRecipe, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for _, rec := range fs.recipes {
		if rec.ID.String() == id {
			return rec, true
		}
	}
	return models.SavedRecipe{}, false
}

func (fs *fakeServer) callCount(path string) int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.calls[path]
}

func (fs *fakeServer) signedOutWith() string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.signedOut
}

func (fs *fakeServer) setDelay(d time.Duration) {
	fs.mu.Lock()
	fs.delay = d
	fs.mu.Unlock()
}

func (fs *fakeServer) setToken(tok string) {
	fs.mu.Lock()
	fs.token = tok
	fs.mu.Unlock()
}

func (fs *fakeServer) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.calls[r.URL.Path]++
		fs.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (fs *fakeServer) slow(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		d := fs.delay
		fs.mu.Unlock()
		if d > 0 {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// issue выставляет токен в заголовке каждого ответа.
func (fs *fakeServer) issue(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		w.Header().Set(csrfHeader, fs.token)
		fs.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (fs *fakeServer) guarded(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		ok := r.Header.Get(csrfHeader) == fs.token
		fs.mu.Unlock()
		if !ok {
			writeErr(w, http.StatusForbidden, codePermissionDenied, csrfRejectMessage)
			return
		}
		next(w, r)
	}
}

func (fs *fakeServer) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ck, err := r.Cookie(session.CookieSession)
		switch {
		case err != nil || ck.Value == "":
			writeErr(w, http.StatusUnauthorized, "unauthenticated", "No active session")
			return
		case ck.Value == sessionStale:
			writeErr(w, http.StatusUnauthorized, codeSessionExpired, "Session expired")
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

func newTestAPI(t *testing.T, fs *fakeServer, timeouts ...Timeouts) *API {
	t.Helper()

	var opts []Option
	if len(timeouts) > 0 {
		opts = append(opts, WithTimeouts(timeouts[0]))
	}

	api, err := NewAPI(fs.srv.URL, opts...)
	require.NoError(t, err)

	return api
}

func newTestStore(t *testing.T) *localstore.Store {
	t.Helper()

	s, err := localstore.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}
