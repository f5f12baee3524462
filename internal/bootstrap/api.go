package bootstrap

import (
	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"

	apihttp "mailsift_server/adapter/in/http"
	out "mailsift_server/core/port/out"
	"mailsift_server/infra/middleware"
)

// NewAPI assembles the fiber app over an already-wired dependency graph.
func NewAPI(deps *Dependencies) *fiber.App {
	cfg := deps.Config

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(deps.Log),
		DisableStartupMessage: cfg.IsProduction(),

		// go-json over the stdlib codec.
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		// Push envelopes carry base64 payload references, not bodies, but
		// batch-delete requests and sync responses can grow.
		BodyLimit: 30 * 1024 * 1024,
	})

	// Order matters: recover outermost, then request identity, then logging.
	app.Use(middleware.Recover(deps.Log))
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger(deps.Log, deps.Metrics))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.FrontendURL,
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,X-Request-ID",
	}))

	registerRoutes(app, deps)
	return app
}

func registerRoutes(app *fiber.App, deps *Dependencies) {
	var jobQueue = queueOrNil(deps)

	webhook := apihttp.NewWebhookHandler(jobQueue, deps.Direct, deps.Config.UseQueue, deps.Metrics, deps.Log)
	health := apihttp.NewHealthHandler(deps.DB, deps.Redis)
	documents := apihttp.NewDocumentHandler(deps.Docs, deps.Log)
	process := apihttp.NewProcessHandler(deps.Direct, deps.Log)
	oauth := apihttp.NewOAuthHandler(deps.Users, deps.Mailboxes, deps.Watches, deps.Config.FrontendURL, deps.Log)
	watches := apihttp.NewWatchHandler(deps.Watches, deps.Users, deps.Log)
	queues := apihttp.NewQueueHandler(jobQueue, deps.Config.UseQueue, deps.Log)

	api := app.Group("/api")

	api.Get("/health", health.Handle)
	api.Post("/webhook/gmail", webhook.HandleGmail)

	api.Post("/process", process.Process)
	api.Get("/emails", process.Emails)

	api.Get("/documents", documents.List)
	api.Get("/documents/:id", documents.Get)
	api.Delete("/documents/:id", documents.Delete)
	api.Post("/documents/delete-batch", documents.DeleteBatch)
	api.Get("/stats", documents.Stats)

	api.Post("/user/sync", oauth.SyncUser)
	api.Get("/auth/gmail/url", oauth.AuthURL)
	api.Get("/auth/gmail/callback", oauth.Callback)
	api.Post("/auth/gmail/disconnect", oauth.Disconnect)

	gmail := api.Group("/gmail/watch")
	gmail.Post("/start", watches.Start)
	gmail.Post("/stop", watches.Stop)
	gmail.Get("/status", watches.Status)
	gmail.Post("/renew-all", watches.RenewAll)
	gmail.Get("/list", watches.List)

	api.Get("/queues/stats", queues.Stats)
}

// queueOrNil erases the typed nil: a disabled queue must reach handlers
// as a nil interface, not an interface holding (*queue.Queue)(nil).
func queueOrNil(deps *Dependencies) out.JobQueue {
	if deps.Queue == nil {
		return nil
	}
	return deps.Queue
}
