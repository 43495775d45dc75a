package router

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pantrylab/pantryd/internal/metrics"
)

type HealthHandler interface {
	Healthz(w http.ResponseWriter, r *http.Request)
}

type AuthHandler interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Refresh(w http.ResponseWriter, r *http.Request)
	Logout(w http.ResponseWriter, r *http.Request)
	Revoke(w http.ResponseWriter, r *http.Request)
	RevokeAll(w http.ResponseWriter, r *http.Request)
	Me(w http.ResponseWriter, r *http.Request)
	UpdateProfile(w http.ResponseWriter, r *http.Request)
	PasswordResetRequest(w http.ResponseWriter, r *http.Request)
	PasswordResetComplete(w http.ResponseWriter, r *http.Request)
}

type OAuthHandler interface {
	Start(w http.ResponseWriter, r *http.Request)
	Callback(w http.ResponseWriter, r *http.Request)
}

type GroceryHandler interface {
	Create(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Update(w http.ResponseWriter, r *http.Request)
	AddItem(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
}

type OrdersHandler interface {
	Run(w http.ResponseWriter, r *http.Request)
}

type Deps struct {
	Health  HealthHandler
	Auth    AuthHandler
	OAuth   OAuthHandler // nil when no OAuth provider is configured
	Grocery GroceryHandler
	Orders  OrdersHandler

	AuthMW func(http.Handler) http.Handler
	// Base middlewares run outermost, in order (request id, device,
	// access log, metrics, fault monitor, security headers, body limit).
	Base []func(http.Handler) http.Handler
}

func New(deps Deps) (http.Handler, error) {
	if deps.Health == nil {
		return nil, fmt.Errorf("nil Health handler")
	}
	if deps.Auth == nil {
		return nil, fmt.Errorf("nil Auth handler")
	}
	if deps.Grocery == nil {
		return nil, fmt.Errorf("nil Grocery handler")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("nil Orders handler")
	}
	if deps.AuthMW == nil {
		return nil, fmt.Errorf("nil Auth middleware")
	}

	r := chi.NewRouter()
	for _, mw := range deps.Base {
		r.Use(mw)
	}

	r.Get("/healthz", deps.Health.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.MetricsHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", deps.Auth.Register)
			r.Post("/login", deps.Auth.Login)
			r.Post("/refresh", deps.Auth.Refresh)
			r.Post("/revoke", deps.Auth.Revoke)
			r.Post("/password-reset/request", deps.Auth.PasswordResetRequest)
			r.Post("/password-reset/complete", deps.Auth.PasswordResetComplete)

			if deps.OAuth != nil {
				r.Get("/oauth/google/start", deps.OAuth.Start)
				r.Get("/oauth/google/callback", deps.OAuth.Callback)
			}

			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMW)
				r.Post("/logout", deps.Auth.Logout)
				r.Post("/revoke-all", deps.Auth.RevokeAll)
				r.Get("/me", deps.Auth.Me)
				r.Put("/me/profile", deps.Auth.UpdateProfile)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.AuthMW)

			r.Route("/grocery-lists", func(r chi.Router) {
				r.Post("/", deps.Grocery.Create)
				r.Get("/", deps.Grocery.List)
				r.Get("/{name}", deps.Grocery.Get)
				r.Put("/{name}", deps.Grocery.Update)
				r.Post("/{name}/items", deps.Grocery.AddItem)
				r.Delete("/{name}", deps.Grocery.Delete)
			})

			r.Post("/orders", deps.Orders.Run)
		})
	})

	return r, nil
}
