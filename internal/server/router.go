package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-groceries/backend/internal/groceries"
	"github.com/go-groceries/backend/internal/mealgen"
	"github.com/go-groceries/backend/internal/syncsvc"
	"go.uber.org/zap"
)

var (
	errMissingPresigner = errors.New("presigner dependency required")

	// allowedContentTypes restricts what the upload endpoint will presign.
	allowedContentTypes = map[string]struct{}{
		"application/json": {},
		"image/jpeg":       {},
		"image/png":        {},
		"image/webp":       {},
	}
)

const fileUploadTypeR2 = "R2"

// Presigner issues time-limited object URLs and checks object existence.
type Presigner interface {
	PresignPut(filename string, expires time.Duration) (string, error)
	PresignGet(filename string, expires time.Duration) (string, error)
	Exists(ctx context.Context, filename string) (bool, error)
}

// MealExtractor turns a video URL into structured meal data.
type MealExtractor interface {
	GenerateMealData(ctx context.Context, videoURL string, availableTags []string, additionalInput string) (*mealgen.MealData, string, error)
}

// Dependencies wires the coordination endpoints.
type Dependencies struct {
	Presigner Presigner
	// Extractor may be nil; the meal-data endpoint then reports unconfigured.
	Extractor   MealExtractor
	Pass        string
	PassEnabled bool
	UploadTTL   time.Duration
	DownloadTTL time.Duration
	Logger      *zap.Logger

	// Store enables the local app routes when non-nil.
	Store        *groceries.Store
	Outbound     OutboundSyncer
	SyncRegistry *syncsvc.Registry
}

// NewHTTPHandler builds the coordination service router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Presigner == nil {
		return nil, errMissingPresigner
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	uploadTTL := deps.UploadTTL
	if uploadTTL <= 0 {
		uploadTTL = 5 * time.Minute
	}
	downloadTTL := deps.DownloadTTL
	if downloadTTL <= 0 {
		downloadTTL = 24 * time.Hour
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		presigner:   deps.Presigner,
		extractor:   deps.Extractor,
		pass:        deps.Pass,
		passEnabled: deps.PassEnabled,
		uploadTTL:   uploadTTL,
		downloadTTL: downloadTTL,
		logger:      logger,
	}

	router.POST("/file-upload", handler.handleFileUpload)
	router.POST("/file-retrieval", handler.handleFileRetrieval)
	router.POST("/youtube/generate-meal-data", handler.handleGenerateMealData)

	if deps.Store != nil {
		registerGroceriesRoutes(router, &groceriesHandler{
			store:    deps.Store,
			outbound: deps.Outbound,
			registry: deps.SyncRegistry,
			logger:   logger,
		})
	}

	return router, nil
}

type httpHandler struct {
	presigner   Presigner
	extractor   MealExtractor
	pass        string
	passEnabled bool
	uploadTTL   time.Duration
	downloadTTL time.Duration
	logger      *zap.Logger
}

// checkPass enforces the shared secret unless the disable flag is set.
func (h *httpHandler) checkPass(c *gin.Context, pass string) bool {
	if !h.passEnabled {
		return true
	}
	if pass == "" || pass != h.pass {
		c.JSON(http.StatusForbidden, gin.H{"error": "Invalid pass provided"})
		return false
	}
	return true
}

type fileUploadPayload struct {
	Pass           string `json:"pass"`
	FileUploadType string `json:"fileUploadType"`
	FileName       string `json:"fileName"`
	ContentType    string `json:"contentType"`
}

func (h *httpHandler) handleFileUpload(c *gin.Context) {
	var request fileUploadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing JSON body"})
		return
	}
	if !h.checkPass(c, request.Pass) {
		return
	}
	if _, ok := allowedContentTypes[request.ContentType]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid content type: " + request.ContentType})
		return
	}
	if request.FileUploadType != fileUploadTypeR2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file upload type: " + request.FileUploadType})
		return
	}
	if strings.TrimSpace(request.FileName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'fileName' parameter"})
		return
	}

	url, err := h.presigner.PresignPut(request.FileName, h.uploadTTL)
	if err != nil {
		h.logger.Error("failed to presign upload", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type fileRetrievalPayload struct {
	Pass         string `json:"pass"`
	FileName     string `json:"fileName"`
	UploadedType string `json:"uploadedType"`
}

func (h *httpHandler) handleFileRetrieval(c *gin.Context) {
	var request fileRetrievalPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing JSON body"})
		return
	}
	if !h.checkPass(c, request.Pass) {
		return
	}
	if request.UploadedType != fileUploadTypeR2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file upload type: " + request.UploadedType})
		return
	}
	if strings.TrimSpace(request.FileName) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing 'fileName' parameter"})
		return
	}

	exists, err := h.presigner.Exists(c.Request.Context(), request.FileName)
	if err != nil {
		h.logger.Error("failed to check object existence", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred."})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	url, err := h.presigner.PresignGet(request.FileName, h.downloadTTL)
	if err != nil {
		h.logger.Error("failed to presign download", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

type generateMealDataPayload struct {
	URL             string   `json:"url"`
	Pass            string   `json:"pass"`
	AvailableTags   []string `json:"availableTags"`
	AdditionalInput string   `json:"additionalInput"`
}

type mealDataResponse struct {
	Data      *mealgen.MealData `json:"data"`
	ModelUsed string            `json:"modelUsed"`
}

func (h *httpHandler) handleGenerateMealData(c *gin.Context) {
	var request generateMealDataPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid or missing JSON body"})
		return
	}
	if !h.checkPass(c, request.Pass) {
		return
	}
	if strings.TrimSpace(request.URL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL is required"})
		return
	}
	if h.extractor == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Meal extraction is not configured."})
		return
	}

	data, modelUsed, err := h.extractor.GenerateMealData(c.Request.Context(), request.URL, request.AvailableTags, request.AdditionalInput)
	if err != nil {
		var statusErr *mealgen.StatusError
		if errors.As(err, &statusErr) {
			c.JSON(statusErr.Code, gin.H{"error": statusErr.Message})
			return
		}
		h.logger.Error("meal data extraction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "An unexpected error occurred."})
		return
	}

	c.JSON(http.StatusOK, mealDataResponse{Data: data, ModelUsed: modelUsed})
}
