package http

import (
	"strconv"
	"strings"

	"automation_server/core/domain"
	"automation_server/pkg/apperr"

	"github.com/gofiber/fiber/v2"
)

// GroupHandler handles sender group and category HTTP requests.
type GroupHandler struct {
	groupRepo    domain.GroupRepository
	categoryRepo domain.SenderCategoryRepository
}

// NewGroupHandler creates a new group handler.
func NewGroupHandler(groupRepo domain.GroupRepository, categoryRepo domain.SenderCategoryRepository) *GroupHandler {
	return &GroupHandler{
		groupRepo:    groupRepo,
		categoryRepo: categoryRepo,
	}
}

// Register registers group and category routes.
func (h *GroupHandler) Register(router fiber.Router) {
	g := router.Group("/groups")

	g.Get("/", h.ListGroups)
	g.Post("/", h.CreateGroup)
	g.Post("/:id/items", h.AddItem)
	g.Delete("/:id/items/:itemId", h.DeleteItem)

	c := router.Group("/categories")
	c.Get("/", h.ListCategories)
	c.Put("/", h.SetCategory)
}

// ListGroups returns all groups with their items.
// GET /api/groups
func (h *GroupHandler) ListGroups(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	groups, err := h.groupRepo.ListByUser(c.Context(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"groups": groups,
		"total":  len(groups),
	})
}

// CreateGroup creates an empty named group.
// POST /api/groups
func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return apperr.MissingField("name")
	}

	group := &domain.Group{UserID: userID, Name: req.Name}
	if err := h.groupRepo.Create(c.Context(), group); err != nil {
		return mapRepoError(err, "group")
	}

	return c.Status(fiber.StatusCreated).JSON(group)
}

// AddItem appends one membership entry to a group.
// POST /api/groups/:id/items
func (h *GroupHandler) AddItem(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	groupID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid group id")
	}

	group, err := h.groupRepo.GetByID(c.Context(), groupID)
	if err != nil {
		return mapRepoError(err, "group")
	}
	if group.UserID != userID {
		return apperr.NotFound("group")
	}

	var req struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}

	itemType := domain.GroupItemType(strings.ToUpper(req.Type))
	if itemType != domain.GroupItemFrom && itemType != domain.GroupItemSubject {
		return apperr.ValidationFailed("item type must be FROM or SUBJECT")
	}
	if strings.TrimSpace(req.Value) == "" {
		return apperr.MissingField("value")
	}

	item := &domain.GroupItem{GroupID: groupID, Type: itemType, Value: req.Value}
	if err := h.groupRepo.AddItem(c.Context(), item); err != nil {
		return mapRepoError(err, "group item")
	}

	return c.Status(fiber.StatusCreated).JSON(item)
}

// DeleteItem removes one membership entry.
// DELETE /api/groups/:id/items/:itemId
func (h *GroupHandler) DeleteItem(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	groupID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid group id")
	}
	itemID, err := strconv.ParseInt(c.Params("itemId"), 10, 64)
	if err != nil {
		return apperr.BadRequest("invalid item id")
	}

	group, err := h.groupRepo.GetByID(c.Context(), groupID)
	if err != nil {
		return mapRepoError(err, "group")
	}
	if group.UserID != userID {
		return apperr.NotFound("group")
	}

	if err := h.groupRepo.DeleteItem(c.Context(), groupID, itemID); err != nil {
		return mapRepoError(err, "group item")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// ListCategories returns the user's sender categories.
// GET /api/categories
func (h *GroupHandler) ListCategories(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	categories, err := h.categoryRepo.ListByUser(c.Context(), userID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"categories": categories,
		"total":      len(categories),
	})
}

// SetCategory assigns a category to a sender address.
// PUT /api/categories
func (h *GroupHandler) SetCategory(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	var req struct {
		Sender   string `json:"sender"`
		Category string `json:"category"`
	}
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if strings.TrimSpace(req.Sender) == "" {
		return apperr.MissingField("sender")
	}

	switch req.Category {
	case domain.CategoryNewsletter, domain.CategoryReceipt, domain.CategoryMarketing,
		domain.CategoryNotification, domain.CategoryPersonal:
	default:
		return apperr.ValidationFailed("unknown category: " + req.Category)
	}

	category := &domain.SenderCategory{
		UserID:   userID,
		Sender:   strings.ToLower(strings.TrimSpace(req.Sender)),
		Category: req.Category,
	}
	if err := h.categoryRepo.Upsert(c.Context(), category); err != nil {
		return err
	}

	return c.JSON(category)
}
