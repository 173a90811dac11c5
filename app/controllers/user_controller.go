package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/FormLoom/FormLoom/internal/pkg/database"
	"github.com/FormLoom/FormLoom/internal/pkg/env"
	"github.com/FormLoom/FormLoom/internal/pkg/mail"
	"github.com/FormLoom/FormLoom/internal/pkg/usercontext"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister is POST /register. Creates the account and returns the API
// key once; only its hash is stored.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid request body"})
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": err.Error()})
	}
	if err := user.GenerateActivationToken(); err != nil {
		log.Errorf("register: activation token: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Registration failed"})
	}

	repo := repository.GetGlobalFactory().GetUserRepository()
	if err := repo.Create(user); err != nil {
		if strings.Contains(err.Error(), "Duplicate") {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Email is already registered"})
		}
		log.Errorf("register: create user: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Registration failed"})
	}

	settings, err := models.GetOrCreateUserSettings(database.GetDB(), user.ID)
	if err != nil {
		log.Errorf("register: settings for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Registration failed"})
	}
	apiKey, err := settings.IssueAPIKey()
	if err != nil {
		log.Errorf("register: api key for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Registration failed"})
	}
	if err := database.GetDB().Save(settings).Error; err != nil {
		log.Errorf("register: save settings for user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Registration failed"})
	}

	go sendActivationMail(user)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      user.ID,
		"email":   user.Email,
		"status":  user.Status,
		"api_key": apiKey,
		"message": "Check your inbox for the activation link",
	})
}

func sendActivationMail(user *models.User) {
	baseURL := env.GetEnv("APP_BASE_URL", "http://localhost:4000")
	link := fmt.Sprintf("%s/activate/%s", strings.TrimRight(baseURL, "/"), user.ActivationToken)
	body := fmt.Sprintf("Hi %s,<br><br>Activate your account: <a href=%q>%s</a>", user.Name, link, link)
	if err := mail.SendMail(user.Email, "Activate your account", body); err != nil {
		log.Warnf("register: activation mail to user %d failed: %v", user.ID, err)
	}
}

// HandleActivate is GET /activate/:token.
func HandleActivate(c *fiber.Ctx) error {
	token := strings.TrimSpace(c.Params("token"))
	if token == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing activation token"})
	}

	var user models.User
	if err := database.GetDB().Where("activation_token = ?", token).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "Invalid activation token"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Activation failed"})
	}

	user.Status = models.STATUS_ACTIVE
	user.ActivationToken = ""
	if err := repository.GetGlobalFactory().GetUserRepository().Update(&user); err != nil {
		log.Errorf("activate: update user %d: %v", user.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Activation failed"})
	}
	return c.JSON(fiber.Map{"status": "activated"})
}

// HandleGetAccount is GET /api/v1/account.
func HandleGetAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	user, err := repository.GetGlobalFactory().GetUserRepository().GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load account"})
	}
	settings, err := models.GetOrCreateUserSettings(database.GetDB(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}

	return c.JSON(fiber.Map{
		"id":             user.ID,
		"name":           user.Name,
		"email":          user.Email,
		"status":         user.Status,
		"plan":           settings.Plan,
		"plan_status":    user.PlanStatus,
		"notify_on_lock": settings.NotifyOnLock,
		"api_key_prefix": settings.APIKeyPrefix,
	})
}

// HandleRotateAPIKey is POST /api/v1/account/api-key. The previous key
// stops working immediately; the new one is returned once.
func HandleRotateAPIKey(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing or invalid authentication"})
	}

	settings, err := models.GetOrCreateUserSettings(database.GetDB(), userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load settings"})
	}
	apiKey, err := settings.IssueAPIKey()
	if err != nil {
		log.Errorf("account: rotate api key for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to rotate key"})
	}
	if err := database.GetDB().Save(settings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to rotate key"})
	}
	return c.JSON(fiber.Map{"api_key": apiKey, "api_key_prefix": settings.APIKeyPrefix})
}
