package controllers

import (
	"errors"
	"strings"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/billing"
	"github.com/FormLoom/FormLoom/internal/pkg/database"
	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/FormLoom/FormLoom/internal/pkg/metering"
	"github.com/FormLoom/FormLoom/internal/pkg/planchange"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// BuildBillingService wires the billing pipeline from the global factory.
// Controllers and the background manager share this construction.
func BuildBillingService() *billing.Service {
	db := database.GetDB()
	factory := repository.GetGlobalFactory()

	engine := planchange.NewEngine(factory.GetFormRepository())
	meterClient := metering.NewClientFromEnv()
	meterStore := metering.NewStore(db)
	ingestor := metering.NewIngestor(factory.GetMeterEventRepository(), meterStore, meterClient)

	return billing.NewService(
		billing.NewRepository(db),
		factory.GetSubscriptionRepository(),
		factory.GetUserRepository(),
		engine,
		ingestor,
		billing.NewMailNotifier(),
	)
}

// BuildIngestor wires the meter event ingestor from the global factory.
func BuildIngestor() *metering.Ingestor {
	db := database.GetDB()
	factory := repository.GetGlobalFactory()
	return metering.NewIngestor(
		factory.GetMeterEventRepository(),
		metering.NewStore(db),
		metering.NewClientFromEnv(),
	)
}

func webhookSecretForProvider(provider string) string {
	switch provider {
	case models.SubscriptionProviderPolar:
		return strings.TrimSpace(env.GetEnv("POLAR_WEBHOOK_SECRET", ""))
	case models.SubscriptionProviderGenie:
		return strings.TrimSpace(env.GetEnv("GENIE_WEBHOOK_SECRET", ""))
	default:
		return ""
	}
}

// HandleBillingWebhook is POST /webhooks/billing/:provider. Signature
// verification comes before anything else and fails closed; only then does
// the body reach the processing pipeline.
func HandleBillingWebhook(c *fiber.Ctx) error {
	provider := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	switch provider {
	case models.SubscriptionProviderPolar, models.SubscriptionProviderGenie:
	default:
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Unknown billing provider"})
	}

	body := c.Body()
	webhookID := c.Get(billing.HeaderWebhookID)
	timestamp := c.Get(billing.HeaderWebhookTimestamp)
	signature := c.Get(billing.HeaderWebhookSignature)

	secret := webhookSecretForProvider(provider)
	if err := billing.VerifySignature(secret, webhookID, timestamp, signature, body); err != nil {
		log.Warnf("webhook: rejected %s delivery %s: %v", provider, webhookID, err)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid webhook signature"})
	}

	svc := BuildBillingService()
	result, err := svc.ProcessWebhook(c.Context(), provider, webhookID, body)
	if err != nil {
		if errors.Is(err, billing.ErrMalformedPayload) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Malformed webhook payload"})
		}
		// Everything else answers 500 so the provider redelivers; the
		// idempotency claim decides whether the redelivery does any work.
		log.Errorf("webhook: processing %s delivery %s failed: %v", provider, webhookID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Webhook processing failed"})
	}

	if result.Duplicate {
		return c.JSON(fiber.Map{"status": "already_processed"})
	}
	return c.JSON(fiber.Map{"status": "processed", "kind": result.Kind})
}
