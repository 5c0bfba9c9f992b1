package server

import (
	"net/http"

	"bibliopanel/internal/archive"
	"bibliopanel/internal/auth"
	"bibliopanel/internal/catalog"
	"bibliopanel/internal/chat"
	"bibliopanel/internal/circulation"
	"bibliopanel/internal/dashboard"
	"bibliopanel/internal/httpapi"
	"bibliopanel/internal/media"
	"bibliopanel/internal/orgconfig"
	"bibliopanel/internal/students"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the HTTP API. Everything under /api/v1 except login, the
// landing counters and the theme needs an admin token.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpapi.RequestLogger)
	r.Use(httpapi.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpapi.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if local, ok := a.Uploader.(*media.LocalUploader); ok {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(local.Dir()))))
	}

	authHandler := auth.NewHandler(a.Auth)
	dashHandler := dashboard.NewHandler(a.Dashboard)
	orgHandler := orgconfig.NewHandler(a.Theme)

	r.Route("/api/v1", func(r chi.Router) {
		authHandler.PublicRoutes(r)
		dashHandler.PublicRoutes(r)
		orgHandler.PublicRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(a.Auth))
			authHandler.Routes(r)
			orgHandler.Routes(r)
			catalog.NewHandler(a.Catalog).Routes(r)
			circulation.NewHandler(a.Circulation).Routes(r)
			archive.NewHandler(a.Archive).Routes(r)
			students.NewHandler(a.Students).Routes(r)
			dashHandler.Routes(r)
			chat.NewHandler(a.Chat).Routes(r)
			if a.Uploader != nil {
				media.NewHandler(a.Uploader).Routes(r)
			}
		})
	})
	return r
}
