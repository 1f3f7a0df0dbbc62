package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/axzora/happy-paisa/internal/cards"
	"github.com/axzora/happy-paisa/internal/config"
	"github.com/axzora/happy-paisa/internal/middleware"
	"github.com/axzora/happy-paisa/internal/settlement"
	"github.com/axzora/happy-paisa/internal/wallet"
)

// Deps aggregates the constructed services and shared infrastructure the
// routes need. Services are built in main, where their lifecycles live.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger

	Chain   *settlement.Processor
	Wallets *wallet.Service
	Cards   *cards.Service
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB/Redis presence outside of dev, even though main also checks.
	if !d.Cfg.Dev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Chain == nil || d.Wallets == nil || d.Cards == nil {
		return fmt.Errorf("route dependencies incomplete")
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger))
	if d.Cache != nil {
		app.Use(middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		reqID, _ := c.Locals("X-Request-ID").(string)
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": reqID,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterChainRoutes(api, settlement.NewHandler(d.Chain))
	RegisterWalletRoutes(api, wallet.NewHandler(d.Wallets))
	RegisterCardRoutes(api, cards.NewHandler(d.Cards))

	return nil
}
