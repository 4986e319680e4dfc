package main

import (
	"log"
	"net/http"

	httphandlers "bankline/internal/interfaces/http"
	"bankline/internal/shared/config"
	"bankline/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Public auth routes
	mux.HandleFunc("/api/auth/register", deps.AuthHandler.HandleRegister)
	mux.HandleFunc("/api/auth/login", deps.AuthHandler.HandleLogin)
	mux.HandleFunc("/api/auth/logout", deps.AuthHandler.HandleLogout)

	var limiter middleware.Limiter
	if deps.Limiter != nil {
		limiter = deps.Limiter
	}

	// Aggregator webhooks carry no session; the body is verified instead.
	mux.Handle("/webhooks/aggregator", middleware.RateLimit(limiter, "webhook")(http.HandlerFunc(deps.WebhookHandler.HandleAggregatorWebhook)))

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	limited := func(scope string, h http.HandlerFunc) http.Handler {
		return authMiddleware(middleware.RateLimit(limiter, scope)(h))
	}

	mux.Handle("/api/users/me", authMiddleware(http.HandlerFunc(deps.UserHandler.HandleMe)))
	mux.Handle("/api/users/me/identity-check", authMiddleware(http.HandlerFunc(deps.UserHandler.HandleIdentityCheck)))

	mux.Handle("/api/items", authMiddleware(http.HandlerFunc(deps.ItemHandler.HandleItems)))
	mux.Handle("/api/items/{id}", authMiddleware(http.HandlerFunc(deps.ItemHandler.HandleItemByID)))
	mux.Handle("/api/items/{id}/accounts", authMiddleware(http.HandlerFunc(deps.ItemHandler.HandleItemAccounts)))
	mux.Handle("/api/items/{id}/balance", authMiddleware(http.HandlerFunc(deps.ItemHandler.HandleRefreshBalance)))
	mux.Handle("/api/items/{id}/sandbox/reset-login", authMiddleware(http.HandlerFunc(deps.ItemHandler.HandleResetLogin)))

	mux.Handle("/api/accounts", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleListAccounts)))
	mux.Handle("/api/accounts/{id}", authMiddleware(http.HandlerFunc(deps.AccountHandler.HandleAccountByID)))

	mux.Handle("/api/link-token", limited("link_token", deps.LinkHandler.HandleIssueLinkToken))
	mux.Handle("/api/link-token/{token}", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleInspectLinkToken)))
	mux.Handle("/api/link-events", authMiddleware(http.HandlerFunc(deps.LinkHandler.HandleLinkEvent)))

	mux.Handle("/api/transfers", limited("transfer", deps.TransferHandler.HandleTransfers))
	mux.Handle("/api/transfers/{id}", authMiddleware(http.HandlerFunc(deps.TransferHandler.HandleTransferByID)))
	mux.Handle("/api/app-funds", authMiddleware(http.HandlerFunc(deps.TransferHandler.HandleAppFund)))

	mux.Handle("/api/live", authMiddleware(http.HandlerFunc(deps.LiveHandler.HandleStream)))

	mux.Handle("/api/notifications", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleNotifications)))
	mux.Handle("/api/notifications/devices", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleRegisterDevice)))
	mux.Handle("/api/notifications/preferences", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandlePreferences)))
	mux.Handle("/api/notifications/{id}", authMiddleware(http.HandlerFunc(deps.NotificationHandler.HandleNotificationByID)))

	// Apply global middleware
	handler := middleware.Logging(middleware.CORS(cfg.Server.AllowedHosts)(mux))

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		log.Println("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	if cfg.Telemetry.Enabled {
		handler = middleware.Telemetry(middleware.Tracing(handler))
	}

	return handler
}
