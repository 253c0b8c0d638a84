package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/syncsvc"
	"go.uber.org/zap"
)

// OutboundSyncer is the slice of the outbound sync controller the manual
// trigger endpoint needs.
type OutboundSyncer interface {
	SyncTo(ctx context.Context, existing *syncsvc.Location, automatic bool) (string, error)
}

// groceriesHandler serves the local app surface: meal and grocery list CRUD
// plus manual sync triggers. Registered only when a live store is wired.
type groceriesHandler struct {
	store    *groceries.Store
	outbound OutboundSyncer
	registry *syncsvc.Registry
	logger   *zap.Logger
}

func registerGroceriesRoutes(router *gin.Engine, handler *groceriesHandler) {
	router.GET("/meals", handler.handleListMeals)
	router.POST("/meals", handler.handleCreateMeal)
	router.PUT("/meals/:id", handler.handleUpdateMeal)
	router.DELETE("/meals/:id", handler.handleDeleteMeal)
	router.GET("/grocery-lists", handler.handleListGroceryLists)
	router.POST("/grocery-lists", handler.handleCreateGroceryList)
	router.DELETE("/grocery-lists/:id", handler.handleDeleteGroceryList)
	router.PUT("/grocery-lists/:id/state", handler.handleSaveListState)
	router.GET("/tags", handler.handleListTags)
	router.POST("/sync/to", handler.handleSyncTo)
	router.GET("/sync/status", handler.handleSyncStatus)
}

type mealPayload struct {
	ID          uint                   `json:"id"`
	Name        string                 `json:"name"`
	Recipe      string                 `json:"recipe,omitempty"`
	Ingredients []groceries.Ingredient `json:"ingredients"`
	UpdatedAtS  int64                  `json:"updated_at_s"`
}

func mealToPayload(meal groceries.Meal) mealPayload {
	ingredients, err := meal.Ingredients()
	if err != nil {
		ingredients = nil
	}
	return mealPayload{
		ID:          meal.ID,
		Name:        meal.Name,
		Recipe:      meal.Recipe,
		Ingredients: ingredients,
		UpdatedAtS:  meal.UpdatedAtSeconds,
	}
}

func (h *groceriesHandler) handleListMeals(c *gin.Context) {
	meals, err := h.store.ListMeals(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list meals", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]mealPayload, 0, len(meals))
	for _, meal := range meals {
		payload = append(payload, mealToPayload(meal))
	}
	c.JSON(http.StatusOK, gin.H{"meals": payload})
}

type mealRequestPayload struct {
	Name        string                 `json:"name"`
	Recipe      string                 `json:"recipe"`
	Ingredients []groceries.Ingredient `json:"ingredients"`
}

func (h *groceriesHandler) handleCreateMeal(c *gin.Context) {
	var request mealRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	meal := groceries.Meal{Name: request.Name, Recipe: request.Recipe}
	if request.Ingredients != nil {
		if err := meal.SetIngredients(request.Ingredients); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ingredients"})
			return
		}
	}
	if err := h.store.CreateMeal(c.Request.Context(), &meal); err != nil {
		if errors.Is(err, groceries.ErrInvalidMealName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_meal_name"})
			return
		}
		h.logger.Error("failed to create meal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, mealToPayload(meal))
}

func (h *groceriesHandler) handleUpdateMeal(c *gin.Context) {
	mealID, ok := pathID(c)
	if !ok {
		return
	}
	var request mealRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	// A request without an ingredients field leaves the stored list alone;
	// an explicit empty list clears it.
	meal := groceries.Meal{ID: mealID, Name: request.Name, Recipe: request.Recipe}
	if request.Ingredients != nil {
		if err := meal.SetIngredients(request.Ingredients); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_ingredients"})
			return
		}
	}
	if err := h.store.UpdateMeal(c.Request.Context(), &meal); err != nil {
		if errors.Is(err, groceries.ErrInvalidMealName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_meal_name"})
			return
		}
		if errors.Is(err, groceries.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "meal_not_found"})
			return
		}
		h.logger.Error("failed to update meal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, mealToPayload(meal))
}

func (h *groceriesHandler) handleDeleteMeal(c *gin.Context) {
	mealID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteMeal(c.Request.Context(), mealID); err != nil {
		h.logger.Error("failed to delete meal", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type groceryListRequestPayload struct {
	Name              string                 `json:"name"`
	MealIDsJSON       string                 `json:"meal_ids_json"`
	CustomIngredients []groceries.Ingredient `json:"custom_ingredients"`
}

func (h *groceriesHandler) handleListGroceryLists(c *gin.Context) {
	lists, err := h.store.ListGroceryLists(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list grocery lists", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"grocery_lists": lists})
}

func (h *groceriesHandler) handleCreateGroceryList(c *gin.Context) {
	var request groceryListRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	list := groceries.GroceryList{Name: request.Name, MealIDsJSON: request.MealIDsJSON}
	if err := h.store.CreateGroceryList(c.Request.Context(), &list); err != nil {
		if errors.Is(err, groceries.ErrInvalidListName) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_list_name"})
			return
		}
		h.logger.Error("failed to create grocery list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, list)
}

func (h *groceriesHandler) handleDeleteGroceryList(c *gin.Context) {
	listID, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.store.DeleteGroceryList(c.Request.Context(), listID); err != nil {
		h.logger.Error("failed to delete grocery list", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type listStatePayload struct {
	CheckedJSON string `json:"checked_json"`
}

func (h *groceriesHandler) handleSaveListState(c *gin.Context) {
	listID, ok := pathID(c)
	if !ok {
		return
	}
	var request listStatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	state := groceries.GroceryListState{GroceryListID: listID, CheckedJSON: request.CheckedJSON}
	if err := h.store.SaveListState(c.Request.Context(), &state); err != nil {
		h.logger.Error("failed to save list state", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save_failed"})
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *groceriesHandler) handleListTags(c *gin.Context) {
	tags, err := h.store.ListTags(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list tags", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": tags})
}

func (h *groceriesHandler) handleSyncTo(c *gin.Context) {
	if h.outbound == nil || h.registry == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_not_configured"})
		return
	}
	existing, err := h.registry.Find(c.Request.Context(), syncsvc.DirectionTo)
	if err != nil {
		h.logger.Error("failed to load sync location", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}
	url, err := h.outbound.SyncTo(c.Request.Context(), existing, false)
	if err != nil {
		h.logger.Error("manual sync-to failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *groceriesHandler) handleSyncStatus(c *gin.Context) {
	if h.registry == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	response := gin.H{}
	for _, direction := range []syncsvc.Direction{syncsvc.DirectionTo, syncsvc.DirectionFrom} {
		location, err := h.registry.Find(c.Request.Context(), direction)
		if err != nil {
			h.logger.Error("failed to load sync location", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
			return
		}
		if location != nil {
			response[string(direction)] = location
		}
	}
	c.JSON(http.StatusOK, response)
}

func pathID(c *gin.Context) (uint, bool) {
	parsed, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id"})
		return 0, false
	}
	return uint(parsed), true
}
