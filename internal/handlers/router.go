package handlers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter registers every endpoint on a fresh gin engine.
func NewRouter(h *Handler, log *zap.SugaredLogger, allowedOrigins []string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(log), CORS(allowedOrigins))

	router.GET("/health", h.Health)
	router.GET("/stats", h.Stats)
	router.POST("/predict", h.Predict)
	router.POST("/predict/", h.Predict)
	router.POST("/predict/image", h.Predict)
	router.POST("/predict/features", h.PredictFromFeatures)
	return router
}
