package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pribylovaa/biocraft-studio/internal/csrf"
	"github.com/pribylovaa/biocraft-studio/internal/http/handlers"
	"github.com/pribylovaa/biocraft-studio/internal/http/middleware"
	"github.com/pribylovaa/biocraft-studio/internal/ratelimit"
	"github.com/pribylovaa/biocraft-studio/internal/service"
	"github.com/pribylovaa/biocraft-studio/internal/session"
)

// Options — параметры сборки HTTP-роутера.
type Options struct {
	Logger      *slog.Logger
	Timeout     time.Duration
	Production  bool
	FrontendURL string
	TrustProxy  bool
	// AuthLimiter и APILimiter могут быть nil — тогда лимит не применяется.
	AuthLimiter ratelimit.Limiter
	APILimiter  ratelimit.Limiter
	Metrics     *middleware.Metrics
	Handlers    handlers.Options
}

// NewRouter собирает http.Handler с chi и подключёнными middleware/роутами.
func NewRouter(svc *service.Service, codec *session.Codec, guard *csrf.Guard, opts Options) http.Handler {
	root := chi.NewRouter()

	// Middleware (внешний -> внутренний).
	root.Use(
		middleware.Recover(),            // безопасно ловим паники
		middleware.RequestID(),          // формируем/прокидываем X-Request-Id (до логирования!)
		middleware.Logging(opts.Logger), // кладём request-scoped логгер в контекст и логируем
		opts.Metrics.Middleware(),       // счётчики по шаблону маршрута
		middleware.SecurityHeaders(opts.Production),
		middleware.CORS(opts.FrontendURL),
	)
	if opts.Timeout > 0 {
		root.Use(middleware.Timeout(opts.Timeout)) // общий дедлайн запроса
	}
	root.Use(guard.Issue) // серверная сессия и X-CSRF-Token в каждом ответе

	h := handlers.New(svc, codec, opts.Metrics, opts.Handlers)

	rl := limits{
		auth: ratelimit.Middleware(opts.AuthLimiter, ratelimit.Options{
			Scope:      "auth",
			Message:    ratelimit.MsgAuthLimited,
			TrustProxy: opts.TrustProxy,
			OnReject:   opts.Metrics.RateLimited,
		}),
		api: ratelimit.Middleware(opts.APILimiter, ratelimit.Options{
			Scope:      "api",
			Message:    ratelimit.MsgAPILimited,
			TrustProxy: opts.TrustProxy,
			OnReject:   opts.Metrics.RateLimited,
		}),
	}

	registerRoutes(root, h, codec, svc, guard, rl)
	return root
}

type limits struct {
	auth, api func(http.Handler) http.Handler
}

// registerRoutes — единая точка регистрации всех REST-эндпойнтов.
func registerRoutes(r chi.Router, h *handlers.Handlers, codec *session.Codec, svc *service.Service, guard *csrf.Guard, rl limits) {
	requireAuth := middleware.RequireAuth(codec, svc)

	r.Get("/csrf-token", csrf.TokenHandler)

	// auth
	r.Group(func(r chi.Router) {
		r.Use(rl.auth, guard.Verify)

		r.Post("/signup", h.SignUp)
		r.Post("/login", h.Login)
		r.Post("/reset-password", h.ResetPassword)
		r.Post("/new-password", h.NewPassword)
	})
	r.With(guard.Verify).Post("/signout", h.SignOut)
	r.With(guard.Verify).Post("/refresh", h.Refresh)

	// oauth: статический /auth/callback раньше /auth/{provider}.
	r.Get("/auth/callback", h.OAuthCallback)
	r.Get("/auth/{provider}", h.OAuthStart)

	// user
	r.Route("/user", func(r chi.Router) {
		r.Use(rl.api)

		r.Get("/session", h.Session)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, guard.Verify)

			r.Get("/", h.CurrentUser)
			r.Get("/profile", h.GetProfile)
			r.Patch("/profile", h.UpdateProfile)
			r.Post("/profile/picture", h.PicturePresign)
			r.Put("/profile/picture", h.PictureConfirm)
			r.Post("/change-password", h.ChangePassword)

			r.Get("/recipes", h.ListRecipes)
			r.Post("/recipes", h.SaveRecipe)
			r.Get("/recipes/{id}", h.GetRecipe)
			r.Put("/recipes/{id}", h.UpdateRecipe)
			r.Delete("/recipes/{id}", h.DeleteRecipe)
		})
	})

	// upload
	r.With(rl.api, requireAuth, guard.Verify).Post("/upload", h.Upload)
}
