package handlers

import (
	"github.com/go-chi/chi/v5"
	"github.com/zagdebate/backend/internal/middleware"
)

// API groups the REST handlers mounted under /api/v1.
type API struct {
	Auth     middleware.Resolver
	Account  *AuthHandler
	Debates  *DebateHandler
	Invites  *InviteHandler
	Payments *PaymentHandler
}

func (a *API) Routes(r chi.Router) {
	// Public endpoints (no auth required)
	r.Get("/debates", a.Debates.List)
	r.Get("/debates/{id}", a.Debates.Get)
	r.Get("/payments/plans", a.Payments.Plans)
	r.Get("/payments/packages", a.Payments.Packages)
	r.Get("/invites/{code}", a.Invites.Resolve)

	// Protected endpoints (auth required)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(a.Auth))

		r.Post("/auth/logout", a.Account.Logout)
		r.Get("/auth/me", a.Account.Me)

		r.Post("/debates", a.Debates.Create)
		r.Get("/debates/earnings", a.Debates.Earnings)
		r.Post("/debates/withdraw", a.Debates.Withdraw)
		r.Patch("/debates/{id}", a.Debates.Update)
		r.Delete("/debates/{id}", a.Debates.Delete)
		r.Post("/debates/{id}/join", a.Debates.Join)
		r.Post("/debates/{id}/leave", a.Debates.Leave)
		r.Get("/debates/{id}/messages", a.Debates.Messages)
		r.Get("/debates/{id}/participants", a.Debates.Participants)
		r.Get("/debates/{id}/revenue", a.Debates.Revenue)
		r.Get("/debates/{id}/invite", a.Invites.Generate)
		r.Get("/debates/{id}/invite.png", a.Invites.QRCode)

		r.Get("/payments/balance", a.Payments.Balance)
		r.Get("/payments/transactions", a.Payments.Transactions)

		// Offline payments are recorded by operators
		r.With(middleware.RequireAdmin).Post("/payments/buy-credits", a.Payments.BuyCredits)
		r.With(middleware.RequireAdmin).Post("/payments/subscribe", a.Payments.Subscribe)
	})
}
