package controllers

import (
	"context"
	"errors"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/cache"
	"github.com/FormLoom/FormLoom/internal/pkg/entitlements"
	"github.com/FormLoom/FormLoom/internal/pkg/metering"
	"github.com/FormLoom/FormLoom/internal/pkg/quota"
	"github.com/FormLoom/FormLoom/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func buildQuotaGate() *quota.Gate {
	factory := repository.GetGlobalFactory()
	calc := entitlements.NewCachedCalculator(factory.GetSubscriptionRepository(), cache.Entitlements())
	return quota.NewGate(calc, factory.GetFormRepository(), factory.GetSubmissionRepository())
}

type createFormRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FormType    string `json:"form_type"`
}

// HandleCreateForm is POST /api/v1/forms. The quota gate runs before the
// insert; usage is reported to the meter asynchronously afterwards.
func HandleCreateForm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	var req createFormRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	decision, err := buildQuotaGate().CanCreateForm(c.Context(), userCtx.UserID)
	if err != nil {
		log.Errorf("forms: quota check for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Quota check failed"})
	}
	if !decision.Allowed {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "quota_exceeded",
			"message": decision.Reason("active forms"),
			"quota":   decision,
		})
	}

	form := &models.Form{
		UUID:        uuid.NewString(),
		UserID:      userCtx.UserID,
		Name:        req.Name,
		Description: req.Description,
		FormType:    req.FormType,
		IsActive:    true,
	}
	if form.FormType == "" {
		form.FormType = models.FormTypeCustom
	}
	if err := form.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	if err := repository.GetGlobalFactory().GetFormRepository().Create(form); err != nil {
		log.Errorf("forms: create for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to create form"})
	}

	ingestor := BuildIngestor()
	go func(userID uint) {
		if err := ingestor.Record(context.Background(), userID, metering.EventFormCreated, models.MeterTypeForms, 1); err != nil {
			log.Warnf("forms: meter record for user %d failed: %v", userID, err)
		}
	}(userCtx.UserID)

	return c.Status(fiber.StatusCreated).JSON(form)
}

// HandleListForms is GET /api/v1/forms.
func HandleListForms(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	forms, err := repository.GetGlobalFactory().GetFormRepository().GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		log.Errorf("forms: list for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load forms"})
	}
	return c.JSON(fiber.Map{"forms": forms, "offset": offset, "limit": limit})
}

// HandleActivateForm is POST /api/v1/forms/:uuid/activate. Reactivation
// counts against the plan quota just like creation does.
func HandleActivateForm(c *fiber.Ctx) error {
	return setFormActive(c, true)
}

// HandleDeactivateForm is POST /api/v1/forms/:uuid/deactivate. Deactivating
// frees a quota slot; submissions stop immediately.
func HandleDeactivateForm(c *fiber.Ctx) error {
	return setFormActive(c, false)
}

func setFormActive(c *fiber.Ctx, active bool) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	forms := repository.GetGlobalFactory().GetFormRepository()
	form, err := forms.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Form not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load form"})
	}
	if form.UserID != userCtx.UserID {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not your form"})
	}
	if form.IsActive == active {
		return c.JSON(form)
	}

	if active {
		decision, err := buildQuotaGate().CanCreateForm(c.Context(), userCtx.UserID)
		if err != nil {
			log.Errorf("forms: quota check for user %d: %v", userCtx.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Quota check failed"})
		}
		if !decision.Allowed {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "quota_exceeded",
				"message": decision.Reason("active forms"),
				"quota":   decision,
			})
		}
	}

	form.IsActive = active
	if err := forms.Update(form); err != nil {
		log.Errorf("forms: toggle %d for user %d: %v", form.ID, userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to update form"})
	}
	return c.JSON(form)
}

// HandleGetForm is GET /api/v1/forms/:uuid.
func HandleGetForm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	form, err := repository.GetGlobalFactory().GetFormRepository().GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Form not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load form"})
	}
	if form.UserID != userCtx.UserID && !userCtx.IsAdmin {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Not your form"})
	}
	return c.JSON(form)
}
