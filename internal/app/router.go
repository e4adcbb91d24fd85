package app

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/course-enrollment-api/api/swagger"
	"github.com/noah-isme/course-enrollment-api/internal/handler"
	"github.com/noah-isme/course-enrollment-api/internal/middleware"
	"github.com/noah-isme/course-enrollment-api/pkg/config"
	"github.com/noah-isme/course-enrollment-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-enrollment-api/pkg/middleware/requestid"
)

// NewRouter mounts every HTTP route on a fresh gin engine.
func NewRouter(cfg *config.Config, svcs *Services, db handler.Pinger, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(svcs.Metrics))

	metricsHandler := handler.NewMetricsHandler(svcs.Metrics, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	enrollments := handler.NewEnrollmentHandler(svcs.Enrollments)
	attendance := handler.NewAttendanceHandler(svcs.Attendance)
	offerings := handler.NewOfferingHandler(svcs.Offerings, svcs.Calendar, svcs.Capacity)

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(middleware.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)))

	api.GET("/enrollments", enrollments.List)
	api.POST("/enrollments", enrollments.Register)
	api.GET("/enrollments/:id", enrollments.Get)
	api.POST("/enrollments/:id/cancel", enrollments.Cancel)
	api.POST("/enrollments/:id/confirm", middleware.Administrators(), enrollments.Confirm)
	api.POST("/enrollments/:id/reject", middleware.Administrators(), enrollments.Reject)
	api.POST("/enrollments/:id/place", middleware.Administrators(), enrollments.Place)
	api.GET("/enrollments/:id/summary", attendance.Summary)

	api.PUT("/attendance", middleware.Staff(), attendance.Upsert)
	api.DELETE("/attendance/:id", middleware.Administrators(), attendance.Delete)

	api.GET("/offerings/:id/calendar", offerings.Calendar)
	api.POST("/offerings", middleware.Administrators(), offerings.Create)
	api.PUT("/offerings/:id", middleware.Administrators(), offerings.Update)
	api.POST("/offerings/:id/normalize", middleware.Administrators(), offerings.Normalize)
	api.POST("/offerings/:id/recompute", middleware.Administrators(), offerings.Recompute)

	return r
}
