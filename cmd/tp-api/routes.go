package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/tp-workflow-api/internal/middleware"
	"github.com/noah-isme/tp-workflow-api/internal/models"
	"github.com/noah-isme/tp-workflow-api/pkg/config"
	"github.com/noah-isme/tp-workflow-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/tp-workflow-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/tp-workflow-api/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, app *application, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", app.metricsH.Health)
	r.GET("/ready", app.metricsH.Ready)
	r.GET("/metrics", app.metricsH.Prometheus)
	if !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	admin := models.RoleAdmin
	supervisor := models.RoleSupervisor
	trainee := models.RoleTeacherTrainee

	auth := api.Group("/auth")
	auth.POST("/login", app.authH.Login)
	auth.POST("/refresh", app.authH.Refresh)
	auth.POST("/logout", middleware.JWT(app.auth), app.authH.Logout)
	auth.GET("/verify", middleware.JWT(app.auth), app.authH.Verify)

	// Signed links carry their own authorization.
	api.GET("/documents/:token", app.lessonPlansH.DownloadDocument)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.auth))

	plans := secured.Group("/lesson-plans")
	plans.GET("", app.lessonPlansH.List)
	plans.POST("", middleware.RequireRoles(trainee), app.lessonPlansH.Create)
	plans.POST("/generate", middleware.RequireRoles(trainee), app.lessonPlansH.Generate)
	plans.GET("/:id", app.lessonPlansH.Get)
	plans.PUT("/:id", middleware.RequireRoles(trainee, admin), app.lessonPlansH.Update)
	plans.DELETE("/:id", middleware.RequireRoles(trainee, admin), app.lessonPlansH.Delete)
	plans.GET("/:id/pdf", middleware.Audit(app.users, logr, models.AuditActionDocumentGenerate, "lesson_plan"), app.lessonPlansH.Document)
	plans.POST("/:id/review", middleware.RequireRoles(supervisor, admin), app.lessonPlansH.Review)
	plans.POST("/:id/approve", middleware.RequireRoles(supervisor, admin), app.lessonPlansH.Approve)

	observations := secured.Group("/observations")
	observations.GET("", app.observationH.List)
	observations.POST("", middleware.RequireRoles(supervisor, admin), app.observationH.Schedule)
	if cfg.Observations.ImportEnabled {
		observations.POST("/import", middleware.RequireRoles(admin), middleware.Audit(app.users, logr, models.AuditActionObservationImport, "observation"), app.observationH.Import)
	}
	observations.PATCH("/:id/status", middleware.RequireRoles(supervisor, admin), app.observationH.AdvanceStatus)
	observations.GET("/:id/feedback", app.observationH.GetFeedback)
	observations.POST("/:id/feedback", middleware.RequireRoles(supervisor), app.observationH.SubmitFeedback)

	users := secured.Group("/users", middleware.RequireRoles(admin))
	users.GET("", app.usersH.List)
	users.POST("", app.usersH.Create)
	users.GET("/:id", app.usersH.Get)
	users.PUT("/:id", app.usersH.Update)
	users.DELETE("/:id", app.usersH.Delete)
	users.POST("/:id/password", app.usersH.ResetPassword)
	users.DELETE("/:id/sessions", app.usersH.RevokeSessions)

	assignments := secured.Group("/tp-assignments")
	assignments.GET("", app.assignmentsH.List)
	assignments.POST("", middleware.RequireRoles(admin), app.assignmentsH.Create)

	if app.reportsH != nil {
		api.GET("/export/:token", app.reportsH.DownloadReport)
		reports := secured.Group("/reports")
		reports.GET("", app.reportsH.ListReports)
		reports.POST("/generate", middleware.RequireRoles(admin, supervisor, trainee), middleware.Audit(app.users, logr, models.AuditActionReportGenerate, "report"), app.reportsH.GenerateReport)
		reports.GET("/status/:id", app.reportsH.ReportStatus)
	}

	return r
}
