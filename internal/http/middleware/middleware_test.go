package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	apierrors "github.com/pribylovaa/biocraft-studio/internal/errors"
	"github.com/pribylovaa/biocraft-studio/internal/models"
	"github.com/pribylovaa/biocraft-studio/internal/service"
	"github.com/pribylovaa/biocraft-studio/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

// capHandler — тестовый slog.Handler, который:
//   - аккумулирует базовые attrs, приходящие через Logger.With(...);
//   - собирает attrs из каждой записи в map[string]any;
//   - не создаёт реальных I/O.
type capHandler struct {
	base    []slog.Attr
	lastMsg string
	lastLvl slog.Level
	attrs   map[string]any
	count   int
}

func (h *capHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *capHandler) Handle(_ context.Context, r slog.Record) error {
	out := make(map[string]any, len(h.base)+8)

	for _, a := range h.base {
		out[a.Key] = a.Value.Any()
	}

	r.Attrs(func(a slog.Attr) bool {
		out[a.Key] = a.Value.Any()
		return true
	})

	h.count++
	h.lastMsg = r.Message
	h.lastLvl = r.Level
	h.attrs = out

	return nil
}

func (h *capHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) > 0 {
		h.base = append(h.base, attrs...)
	}

	return h
}

func (h *capHandler) WithGroup(string) slog.Handler { return h }

func makeReq(target string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 12345}).String()
	return req
}

type apiError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type errEnvelope struct {
	Error apiError `json:"error"`
}

func decodeErr(t *testing.T, rr *httptest.ResponseRecorder) apiError {
	t.Helper()

	var env errEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env.Error
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestChain_Order(t *testing.T) {
	t.Parallel()
	order := []string{}

	m1 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m1-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m1-end")
		})
	}

	m2 := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "m2-begin")
			next.ServeHTTP(w, r)
			order = append(order, "m2-end")
		})
	}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		w.WriteHeader(http.StatusTeapot)
	})

	chain := Chain(final, m1, m2)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, makeReq("/chain"))

	require.Equal(t, []string{"m1-begin", "m2-begin", "handler", "m2-end", "m1-end"}, order)
	require.Equal(t, http.StatusTeapot, rr.Code)
}

func TestRequestID_GenerateAndPropagate(t *testing.T) {
	t.Parallel()
	var seenID, seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = r.Header.Get(HeaderRequestID)
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, RequestID()).ServeHTTP(rr, makeReq("/rid"))

	respID := rr.Header().Get(HeaderRequestID)
	require.Len(t, respID, 32) // 16 байт → 32 hex-символа
	require.Equal(t, respID, seenID)
	require.Equal(t, respID, seenCtxID)
}

func TestRequestID_UseExisting(t *testing.T) {
	t.Parallel()
	const given = "abc123-existing-id"
	var seenCtxID string

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenCtxID = RequestIDFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	req := makeReq("/rid2")
	req.Header.Set(HeaderRequestID, given)
	Chain(h, RequestID()).ServeHTTP(rr, req)

	require.Equal(t, given, rr.Header().Get(HeaderRequestID))
	require.Equal(t, given, seenCtxID)
}

func TestRequestID_TooLongReplaced(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	req := makeReq("/rid3")
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	req.Header.Set(HeaderRequestID, string(long))
	Chain(okHandler(), RequestID()).ServeHTTP(rr, req)

	require.Len(t, rr.Header().Get(HeaderRequestID), 32)
}

func TestTimeout_SetsDeadline_WhenAbsent(t *testing.T) {
	t.Parallel()
	var hasDeadline bool
	var left time.Duration

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dl, ok := r.Context().Deadline()
		hasDeadline = ok
		if ok {
			left = time.Until(dl)
		}
		w.WriteHeader(http.StatusOK)
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(50*time.Millisecond)).ServeHTTP(rr, makeReq("/timeout"))

	require.True(t, hasDeadline)
	require.Greater(t, left, time.Duration(0))
}

func TestTimeout_DoesNotOverrideExistingDeadline(t *testing.T) {
	t.Parallel()
	var childDL time.Time

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		childDL, _ = r.Context().Deadline()
		w.WriteHeader(http.StatusOK)
	})

	parent, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := makeReq("/timeout2").WithContext(parent)

	rr := httptest.NewRecorder()
	Chain(h, Timeout(time.Second)).ServeHTTP(rr, req)

	parentDL, _ := parent.Deadline()
	require.WithinDuration(t, parentDL, childDL, time.Millisecond)
}

func TestTimeout_WritesGatewayTimeout_WhenHandlerSilent(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(10*time.Millisecond)).ServeHTTP(rr, makeReq("/slow"))

	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	require.Equal(t, "deadline_exceeded", decodeErr(t, rr).Code)
}

func TestTimeout_KeepsHandlerResponse(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		w.WriteHeader(http.StatusAccepted)
	})

	rr := httptest.NewRecorder()
	Chain(h, Timeout(10*time.Millisecond)).ServeHTTP(rr, makeReq("/slow-but-written"))

	require.Equal(t, http.StatusAccepted, rr.Code)
}

func TestRecover_ConvertsPanicTo500(t *testing.T) {
	t.Parallel()

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rr := httptest.NewRecorder()
	Chain(panicHandler, Recover()).ServeHTTP(rr, makeReq("/panic"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	e := decodeErr(t, rr)
	require.Equal(t, "internal", e.Code)
	require.NotEmpty(t, e.Message)
}

func TestLogging_WritesRecord_WithStatusDurBytesAndRequestID(t *testing.T) {
	t.Parallel()
	h := &capHandler{}
	logger := slog.New(h)

	const rid = "rid-456"
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Без WriteHeader статус должен стать 200 после Write.
		_, _ = w.Write([]byte("0123456789"))
	})

	handler := Chain(final, RequestID(), Logging(logger))

	rr := httptest.NewRecorder()
	req := makeReq("/log")
	req.Header.Set(HeaderRequestID, rid)
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, 1, h.count)
	require.Equal(t, "http", h.lastMsg)
	require.Equal(t, slog.LevelInfo, h.lastLvl)

	require.Equal(t, http.MethodGet, h.attrs["method"])
	require.Equal(t, "/log", h.attrs["path"])
	require.EqualValues(t, http.StatusOK, h.attrs["status"])
	require.EqualValues(t, 10, h.attrs["bytes"])
	require.Equal(t, rid, h.attrs["request_id"])

	_, hasDur := h.attrs["dur"]
	require.True(t, hasDur)
}

func TestLogging_ErrorLevelOn5xx(t *testing.T) {
	t.Parallel()
	h := &capHandler{}

	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	rr := httptest.NewRecorder()
	Chain(final, Logging(slog.New(h))).ServeHTTP(rr, makeReq("/fail"))

	require.Equal(t, slog.LevelError, h.lastLvl)
	require.EqualValues(t, http.StatusBadGateway, h.attrs["status"])
}

func TestStatusWriter_CountsBytes_AndDefaultStatus200(t *testing.T) {
	t.Parallel()
	rr := httptest.NewRecorder()
	sw := newStatusWriter(rr)

	_, _ = sw.Write([]byte("abcd"))

	require.Equal(t, http.StatusOK, sw.Status())
	require.Equal(t, 4, sw.count)
	require.Same(t, sw, newStatusWriter(sw))
}

func TestSecurityHeaders_ProdAndDev(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	Chain(okHandler(), SecurityHeaders(false)).ServeHTTP(rr, makeReq("/"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "strict-origin-when-cross-origin", rr.Header().Get("Referrer-Policy"))
	require.Empty(t, rr.Header().Get("Content-Security-Policy"))

	rr = httptest.NewRecorder()
	Chain(okHandler(), SecurityHeaders(true)).ServeHTTP(rr, makeReq("/"))
	require.Contains(t, rr.Header().Get("Content-Security-Policy"), "frame-ancestors 'none'")
}

func TestCORS(t *testing.T) {
	t.Parallel()
	const front = "http://localhost:9002"

	t.Run("preflight", func(t *testing.T) {
		t.Parallel()
		called := false
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

		req := httptest.NewRequest(http.MethodOptions, "/api/recipes", nil)
		req.Header.Set("Origin", front)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		Chain(h, CORS(front+"/")).ServeHTTP(rr, req)

		require.False(t, called)
		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Equal(t, front, rr.Header().Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
		require.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), "X-CSRF-Token")
		require.Contains(t, rr.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
	})

	t.Run("simple request", func(t *testing.T) {
		t.Parallel()
		req := makeReq("/api/recipes")
		req.Header.Set("Origin", front)
		rr := httptest.NewRecorder()
		Chain(okHandler(), CORS(front)).ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Equal(t, front, rr.Header().Get("Access-Control-Allow-Origin"))
		require.Contains(t, rr.Header().Get("Access-Control-Expose-Headers"), "X-CSRF-Token")
	})

	t.Run("foreign origin", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodOptions, "/api/recipes", nil)
		req.Header.Set("Origin", "https://evil.example")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		Chain(okHandler(), CORS(front)).ServeHTTP(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		require.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestMetrics_RoutePatternAndEvents(t *testing.T) {
	t.Parallel()
	m := NewMetrics(prometheus.NewRegistry())

	r := chi.NewRouter()
	r.Use(m.Middleware())
	r.Get("/recipes/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, makeReq("/recipes/"+id))
		require.Equal(t, http.StatusNotFound, rr.Code)
	}

	require.InDelta(t, 2, testutil.ToFloat64(m.requests.WithLabelValues(http.MethodGet, "/recipes/{id}", "404")), 0)

	m.AuthEvent("login", OutcomeSuccess)
	m.CSRFRejected()
	m.RateLimited("auth")
	require.InDelta(t, 1, testutil.ToFloat64(m.authEvents.WithLabelValues("login", OutcomeSuccess)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.authEvents.WithLabelValues("csrf_reject", OutcomeFailure)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.rateLimited.WithLabelValues("auth")), 0)
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics

	require.NotPanics(t, func() {
		m.AuthEvent("login", OutcomeFailure)
		m.CSRFRejected()
		m.RateLimited("api")

		rr := httptest.NewRecorder()
		Chain(okHandler(), m.Middleware()).ServeHTTP(rr, makeReq("/"))
	})
}

type authFunc func(ctx context.Context, token string) (*models.Identity, error)

func (f authFunc) CurrentUser(ctx context.Context, token string) (*models.Identity, error) {
	return f(ctx, token)
}

func testCodec() *session.Codec {
	return &session.Codec{
		SameSite:       http.SameSiteLaxMode,
		MaxAge:         time.Hour,
		RememberMaxAge: 24 * time.Hour,
		MaxSessionAge:  7 * 24 * time.Hour,
	}
}

// reqWithSession возвращает запрос с cookie, выставленными Codec.Encode.
func reqWithSession(t *testing.T, c *session.Codec, s *models.Session) *http.Request {
	t.Helper()

	rr := httptest.NewRecorder()
	require.NoError(t, c.Encode(rr, s, false))

	req := makeReq("/api/user/profile")
	for _, ck := range rr.Result().Cookies() {
		req.AddCookie(ck)
	}
	return req
}

func requireCleared(t *testing.T, rr *httptest.ResponseRecorder) {
	t.Helper()

	cleared := map[string]bool{}
	for _, ck := range rr.Result().Cookies() {
		if ck.MaxAge < 0 {
			cleared[ck.Name] = true
		}
	}
	require.True(t, cleared[session.CookieSession])
	require.True(t, cleared[session.CookieStatus])
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()
	codec := testCodec()
	id := models.Identity{ID: uuid.New(), Email: "u@e.com", Role: models.RoleUser}
	s := models.NewSession("access-1", "refresh-1", id, time.Now(), time.Hour)

	t.Run("no cookie", func(t *testing.T) {
		t.Parallel()
		called := false
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
		auth := authFunc(func(context.Context, string) (*models.Identity, error) {
			t.Fatal("authenticator must not be called")
			return nil, nil
		})

		rr := httptest.NewRecorder()
		Chain(h, RequireAuth(codec, auth)).ServeHTTP(rr, makeReq("/api/user/profile"))

		require.False(t, called)
		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "Authentication required", decodeErr(t, rr).Message)
		requireCleared(t, rr)
	})

	t.Run("malformed cookie", func(t *testing.T) {
		t.Parallel()
		req := makeReq("/api/user/profile")
		req.AddCookie(&http.Cookie{Name: session.CookieSession, Value: "%%%not-base64"})

		rr := httptest.NewRecorder()
		Chain(okHandler(), RequireAuth(codec, authFunc(nil))).ServeHTTP(rr, req)

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "Invalid session data", decodeErr(t, rr).Message)
	})

	t.Run("token rejected", func(t *testing.T) {
		t.Parallel()
		auth := authFunc(func(context.Context, string) (*models.Identity, error) {
			return nil, errors.New("expired")
		})

		rr := httptest.NewRecorder()
		Chain(okHandler(), RequireAuth(codec, auth)).ServeHTTP(rr, reqWithSession(t, codec, &s))

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		require.Equal(t, "Invalid session data", decodeErr(t, rr).Message)
		requireCleared(t, rr)
	})

	t.Run("access token expired keeps cookies", func(t *testing.T) {
		t.Parallel()
		auth := authFunc(func(context.Context, string) (*models.Identity, error) {
			return nil, &service.Error{Kind: service.ErrSessionExpired, Message: service.MsgSessionExpired}
		})

		rr := httptest.NewRecorder()
		Chain(okHandler(), RequireAuth(codec, auth)).ServeHTTP(rr, reqWithSession(t, codec, &s))

		require.Equal(t, http.StatusUnauthorized, rr.Code)
		body := decodeErr(t, rr)
		require.Equal(t, apierrors.CodeSessionExpired, body.Code)
		require.Equal(t, service.MsgSessionExpired, body.Message)
		require.Empty(t, rr.Result().Cookies())
	})

	t.Run("ok", func(t *testing.T) {
		t.Parallel()
		var gotToken string
		auth := authFunc(func(_ context.Context, token string) (*models.Identity, error) {
			gotToken = token
			return &id, nil
		})

		var seen models.Identity
		var seenSess *models.Session
		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = IdentityFrom(r.Context())
			seenSess, _ = SessionFrom(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})

		rr := httptest.NewRecorder()
		Chain(h, RequireAuth(codec, auth)).ServeHTTP(rr, reqWithSession(t, codec, &s))

		require.Equal(t, http.StatusNoContent, rr.Code)
		require.Equal(t, "access-1", gotToken)
		require.Equal(t, id, seen)
		require.Equal(t, "refresh-1", seenSess.RefreshToken)
	})
}
