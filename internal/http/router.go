package http

import (
	"net/http"

	"autorun/internal/account"
	"autorun/internal/auth"
	"autorun/internal/autorun"
	"autorun/internal/config"
	"autorun/internal/http/handler"
	mw "autorun/internal/http/middleware"
	"autorun/internal/interaction"
	"autorun/internal/progress"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"
)

type Deps struct {
	DB        *gorm.DB
	JWT       *auth.JWT
	Jobs      *autorun.Repo
	Accounts  *account.Repo
	Guard     *interaction.Guard
	Runner    handler.Runner
	Scheduler handler.ForceRunner
	Hub       *progress.Hub
}

func NewRouter(cfg config.Config, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(mw.CORS(cfg.CORSAllowedOrigins, cfg.CORSAllowCredentials))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ah := &handler.AuthHandler{DB: d.DB, JWT: d.JWT}
	r.Post("/auth/register", ah.Register)
	r.Post("/auth/login", ah.Login)

	requireAuth := auth.RequireAuth(d.JWT)

	me := &handler.MeHandler{DB: d.DB}
	r.With(requireAuth).Get("/me", me.Me)

	accH := &handler.AccountHandler{Accounts: d.Accounts, Runner: d.Runner}
	r.Route("/accounts", func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/", accH.Create)
		r.Get("/", accH.List)
		r.Get("/{id}/running", accH.Running)
		r.Post("/{id}/interact", accH.Interact)
	})

	jobH := &handler.JobHandler{Jobs: d.Jobs, Accounts: d.Accounts, Scheduler: d.Scheduler}
	r.Route("/jobs", func(r chi.Router) {
		r.Use(requireAuth)

		r.Post("/", jobH.Create)
		r.Get("/", jobH.List)
		r.Get("/{id}", jobH.Get)
		r.Post("/{id}/status", jobH.SetStatus)
		r.Post("/{id}/run", jobH.Run)
		r.Get("/{id}/records", jobH.Records)
	})

	recH := &handler.RecordHandler{Jobs: d.Jobs, Guard: d.Guard}
	r.With(requireAuth).Get("/records", recH.Executions)
	r.With(requireAuth).Get("/interactions", recH.Interactions)

	progH := &handler.ProgressHandler{Hub: d.Hub, AllowedOrigins: cfg.CORSAllowedOrigins}
	r.With(requireAuth).Get("/progress/ws", progH.Stream)

	return r
}
