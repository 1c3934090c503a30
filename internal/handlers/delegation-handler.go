package handlers

import (
	"context"
	"log"
	"time"

	"permission-service/internal/middleware"
	"permission-service/internal/models"
	"permission-service/internal/service"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type DelegationHandler struct {
	delegationService *service.DelegationService
	auth              *middleware.Auth
}

func NewDelegationHandler(delegationService *service.DelegationService, auth *middleware.Auth) *DelegationHandler {
	return &DelegationHandler{
		delegationService: delegationService,
		auth:              auth,
	}
}

// RegisterRoutes must run before the permission handler so the static
// /delegations prefix is not swallowed by its node param routes.
func (h *DelegationHandler) RegisterRoutes(app *fiber.App) {
	group := app.Group("/protected/permissions/delegations", h.auth.RequireUser)

	group.Get("/my", h.ListByMe)
	group.Get("/to-me", h.ListToMe)
	group.Post("/", h.CreateDelegation)
	group.Delete("/:id", h.RevokeDelegation)
}

func (h *DelegationHandler) CreateDelegation(c fiber.Ctx) error {
	var req models.CreateDelegationRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	delegation, err := h.delegationService.Create(ctx, &req, middleware.UserID(c))
	if err != nil {
		log.Printf("Failed to create delegation: %v", err)
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Delegation created",
		"data": fiber.Map{
			"delegation": delegation,
		},
	})
}

func (h *DelegationHandler) RevokeDelegation(c fiber.Ctx) error {
	id, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid delegation id",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.delegationService.Revoke(ctx, id, middleware.UserID(c)); err != nil {
		log.Printf("Failed to revoke delegation %s: %v", id.Hex(), err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Delegation revoked",
	})
}

func (h *DelegationHandler) ListByMe(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delegations, err := h.delegationService.DelegationsByMe(ctx, middleware.UserID(c))
	if err != nil {
		log.Printf("Failed to list delegations by %s: %v", middleware.UserID(c), err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"delegations": delegations,
			"count":       len(delegations),
		},
	})
}

func (h *DelegationHandler) ListToMe(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	delegations, err := h.delegationService.DelegationsToMe(ctx, middleware.UserID(c))
	if err != nil {
		log.Printf("Failed to list delegations to %s: %v", middleware.UserID(c), err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"delegations": delegations,
			"count":       len(delegations),
		},
	})
}
