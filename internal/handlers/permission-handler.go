package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"permission-service/internal/middleware"
	"permission-service/internal/models"
	"permission-service/internal/service"

	"github.com/gofiber/fiber/v3"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type PermissionHandler struct {
	permissionService  *service.PermissionService
	effectiveService   *service.EffectivePermissionService
	inheritanceService *service.InheritanceService
	auditService       *service.AuditService
	auth               *middleware.Auth
}

func NewPermissionHandler(
	permissionService *service.PermissionService,
	effectiveService *service.EffectivePermissionService,
	inheritanceService *service.InheritanceService,
	auditService *service.AuditService,
	auth *middleware.Auth,
) *PermissionHandler {
	return &PermissionHandler{
		permissionService:  permissionService,
		effectiveService:   effectiveService,
		inheritanceService: inheritanceService,
		auditService:       auditService,
		auth:               auth,
	}
}

func (h *PermissionHandler) RegisterRoutes(app *fiber.App) {
	group := app.Group("/protected/permissions", h.auth.RequireUser)

	// Static prefixes before the node param routes; fiber matches in
	// registration order.
	group.Get("/check/:nodeType/:nodeId", h.CheckPermission)
	group.Get("/effective/:nodeType/:nodeId", h.GetEffectivePermission)
	group.Get("/matrix/:nodeType/:nodeId", h.GetMatrix, h.auth.RequireAdmin)
	group.Get("/audit/principal/:principalType/:principalId", h.GetAuditByPrincipal, h.auth.RequireAdmin)
	group.Get("/audit/:nodeType/:nodeId", h.GetAuditByNode, h.auth.RequireAdmin)
	group.Post("/cache/invalidate/user/:userId", h.InvalidateUserCache, h.auth.RequireAdmin)
	group.Post("/cache/invalidate/:nodeType/:nodeId", h.InvalidateNodeCache, h.auth.RequireAdmin)

	group.Post("/:nodeType/:nodeId/break-inheritance", h.BreakInheritance)
	group.Post("/:nodeType/:nodeId/restore-inheritance", h.RestoreInheritance)
	group.Get("/:nodeType/:nodeId", h.ListForNode)
	group.Post("/", h.GrantPermission)
	group.Put("/:id", h.UpdatePermission)
	group.Delete("/:id", h.RevokePermission)
}

func parseNode(c fiber.Ctx) (models.NodeRef, bool) {
	node := models.NodeRef{
		NodeType: models.NodeType(c.Params("nodeType")),
		NodeID:   c.Params("nodeId"),
	}
	if !node.NodeType.Valid() || node.NodeID == "" {
		return node, false
	}
	return node, true
}

// requireNodeAdmin checks that the caller holds the Admin bit on the node.
// Failure is answered exactly like a missing node so unauthorized callers
// cannot probe node existence.
func (h *PermissionHandler) requireNodeAdmin(ctx context.Context, userID string, node models.NodeRef) (bool, error) {
	return h.effectiveService.HasPermission(ctx, userID, node, models.LevelAdmin)
}

// permissionNodeAdmin resolves the grant's node and checks the Admin bit on
// it. Used by the id-addressed mutations, where the node is not in the path.
func (h *PermissionHandler) permissionNodeAdmin(ctx context.Context, userID string, id bson.ObjectID) (bool, error) {
	existing, err := h.permissionService.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return h.requireNodeAdmin(ctx, userID, existing.Node())
}

func (h *PermissionHandler) ListForNode(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	allowed, err := h.requireNodeAdmin(ctx, middleware.UserID(c), node)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return respondNodeNotFound(c)
	}

	permissions, err := h.permissionService.ListForNode(ctx, node)
	if err != nil {
		log.Printf("Failed to list permissions for %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"permissions": permissions,
			"count":       len(permissions),
		},
	})
}

func (h *PermissionHandler) GrantPermission(c fiber.Ctx) error {
	var req models.GrantPermissionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	node := models.NodeRef{NodeType: req.NodeType, NodeID: req.NodeID}
	if req.NodeType.Valid() && req.NodeID != "" {
		allowed, err := h.requireNodeAdmin(ctx, middleware.UserID(c), node)
		if err != nil {
			return respondError(c, err)
		}
		if !allowed {
			return respondNodeNotFound(c)
		}
	}

	permission, err := h.permissionService.Grant(ctx, &req, middleware.UserID(c))
	if err != nil {
		log.Printf("Failed to grant permission: %v", err)
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Permission granted",
		"data": fiber.Map{
			"permission": permission,
		},
	})
}

func (h *PermissionHandler) UpdatePermission(c fiber.Ctx) error {
	id, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid permission id",
		})
	}

	var req models.UpdatePermissionRequest
	if err := c.Bind().Body(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allowed, err := h.permissionNodeAdmin(ctx, middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return respondNodeNotFound(c)
	}

	permission, err := h.permissionService.Update(ctx, id, &req, middleware.UserID(c))
	if err != nil {
		log.Printf("Failed to update permission %s: %v", id.Hex(), err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Permission updated",
		"data": fiber.Map{
			"permission": permission,
		},
	})
}

func (h *PermissionHandler) RevokePermission(c fiber.Ctx) error {
	id, err := bson.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid permission id",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allowed, err := h.permissionNodeAdmin(ctx, middleware.UserID(c), id)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return respondNodeNotFound(c)
	}

	if err := h.permissionService.Revoke(ctx, id, middleware.UserID(c)); err != nil {
		log.Printf("Failed to revoke permission %s: %v", id.Hex(), err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Permission revoked",
	})
}

func (h *PermissionHandler) CheckPermission(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	levelValue, err := strconv.Atoi(c.Query("level", "0"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid level",
		})
	}
	required := models.PermissionLevel(levelValue)
	if !required.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Level must be a non-zero combination of read(1), write(2), delete(4), admin(8)",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	granted, err := h.effectiveService.HasPermission(ctx, middleware.UserID(c), node, required)
	if err != nil {
		log.Printf("Failed to check permission on %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"hasPermission": granted,
	})
}

func (h *PermissionHandler) GetEffectivePermission(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	detail, err := h.effectiveService.ResolveDetail(ctx, middleware.UserID(c), node)
	if err != nil {
		log.Printf("Failed to resolve effective permission on %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": detail,
	})
}

func (h *PermissionHandler) BreakInheritance(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	copyPermissions, err := strconv.ParseBool(c.Query("copyPermissions", "false"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid copyPermissions value",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allowed, adminErr := h.requireNodeAdmin(ctx, middleware.UserID(c), node)
	if adminErr != nil {
		return respondError(c, adminErr)
	}
	if !allowed {
		return respondNodeNotFound(c)
	}

	if err := h.inheritanceService.Break(ctx, node, middleware.UserID(c), copyPermissions); err != nil {
		log.Printf("Failed to break inheritance on %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Inheritance broken",
	})
}

func (h *PermissionHandler) RestoreInheritance(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	allowed, err := h.requireNodeAdmin(ctx, middleware.UserID(c), node)
	if err != nil {
		return respondError(c, err)
	}
	if !allowed {
		return respondNodeNotFound(c)
	}

	if err := h.inheritanceService.Restore(ctx, node, middleware.UserID(c)); err != nil {
		log.Printf("Failed to restore inheritance on %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Inheritance restored",
	})
}

func (h *PermissionHandler) GetMatrix(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	matrix, err := h.permissionService.MatrixForNode(ctx, node)
	if err != nil {
		log.Printf("Failed to build matrix for %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": matrix,
	})
}

func (h *PermissionHandler) GetAuditByNode(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	take, _ := strconv.Atoi(c.Query("take", "0"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := h.auditService.ForNode(ctx, node, take)
	if err != nil {
		log.Printf("Failed to load audit trail for %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"entries": entries,
			"count":   len(entries),
		},
	})
}

func (h *PermissionHandler) GetAuditByPrincipal(c fiber.Ctx) error {
	principal := models.Principal{
		PrincipalType: models.PrincipalType(c.Params("principalType")),
		PrincipalID:   c.Params("principalId"),
	}
	if !principal.PrincipalType.Valid() || principal.PrincipalID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid principal reference",
		})
	}

	take, _ := strconv.Atoi(c.Query("take", "0"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entries, err := h.auditService.ForPrincipal(ctx, principal, take)
	if err != nil {
		log.Printf("Failed to load audit trail for %s %s: %v", principal.PrincipalType, principal.PrincipalID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"entries": entries,
			"count":   len(entries),
		},
	})
}

func (h *PermissionHandler) InvalidateNodeCache(c fiber.Ctx) error {
	node, ok := parseNode(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid node reference",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.effectiveService.InvalidateNodeCache(ctx, node); err != nil {
		log.Printf("Failed to invalidate node cache for %s %s: %v", node.NodeType, node.NodeID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Cache invalidated",
	})
}

func (h *PermissionHandler) InvalidateUserCache(c fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "User id is required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.effectiveService.InvalidateUserCache(ctx, userID); err != nil {
		log.Printf("Failed to invalidate user cache for %s: %v", userID, err)
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "Cache invalidated",
	})
}
