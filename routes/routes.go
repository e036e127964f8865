package routes

import (
	"festra/handlers"
	"festra/middleware"
	"festra/models"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

func SetupRoutes(
	router *chi.Mux,
	jwtSecret []byte,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	eventHandler *handlers.EventHandler,
	registrationHandler *handlers.RegistrationHandler,
	paymentHandler *handlers.PaymentHandler,
	teamHandler *handlers.TeamHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authenticate := middleware.Authenticate(jwtSecret)
	staffOnly := middleware.Authorize(models.RoleOrganizer, models.RoleAdmin)

	router.Post("/auth/signup", authHandler.SignUp)
	router.Post("/auth/signin", authHandler.SignIn)

	router.Route("/events", func(r chi.Router) {
		// Публичные маршруты для просмотра событий
		r.Get("/", eventHandler.List)
		r.Get("/{eventID}", eventHandler.Get)
		r.Get("/{eventID}/teams", teamHandler.ListByEvent)

		// Live dashboard feed
		r.Get("/{eventID}/stream", webSocketHandler.ServeEventStream)

		// Participant actions
		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/{eventID}/registrations", registrationHandler.Register)
			r.Post("/{eventID}/purchases", registrationHandler.Purchase)
			r.Post("/{eventID}/teams", teamHandler.Create)
		})

		// Organizer actions
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Use(staffOnly)

			r.Post("/", eventHandler.Create)
			r.Put("/{eventID}", eventHandler.Update)
			r.Post("/{eventID}/publish", eventHandler.Publish)
			r.Delete("/{eventID}", eventHandler.Cancel)
			r.Get("/{eventID}/registrations", registrationHandler.ListByEvent)
			r.Post("/{eventID}/scan", registrationHandler.ScanTicket)
		})
	})

	router.Route("/registrations", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/mine", registrationHandler.ListMine)
		r.Get("/{registrationID}", registrationHandler.Get)
		r.Post("/{registrationID}/cancel", registrationHandler.Cancel)
		r.Post("/{registrationID}/proof", paymentHandler.UploadProof)

		r.Group(func(r chi.Router) {
			r.Use(staffOnly)

			r.Post("/{registrationID}/approve", paymentHandler.Approve)
			r.Post("/{registrationID}/reject", paymentHandler.Reject)
			r.Post("/{registrationID}/attend", registrationHandler.MarkAttended)
			r.Post("/{registrationID}/override", registrationHandler.ManualOverride)
		})
	})

	router.Route("/teams", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/{teamID}", teamHandler.Get)
		r.Post("/join", teamHandler.Join)
		r.Post("/{teamID}/leave", teamHandler.Leave)
		r.Delete("/{teamID}", teamHandler.Delete)

		r.Group(func(r chi.Router) {
			r.Use(staffOnly)

			r.Post("/{teamID}/complete", teamHandler.Complete)
		})
	})

	router.Route("/users", func(r chi.Router) {
		r.Use(authenticate)

		r.Get("/me", userHandler.GetMe)
		r.Put("/{userID}/role", userHandler.SetRole)
	})
}
