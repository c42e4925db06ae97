package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册 /api 下的全部路由。limiter 为 nil 时不限流。
func RegisterRoutes(api *gin.RouterGroup, h *WorkspaceHandler, limiter *RateLimiter) {
	api.GET("/modes", h.ListModes)

	workspaces := api.Group("/workspaces")
	{
		workspaces.POST("", h.CreateWorkspace)
		workspaces.GET("", h.ListWorkspaces)
		workspaces.POST("/clear", h.ClearAll)
		workspaces.GET("/:id", h.GetWorkspace)
		workspaces.DELETE("/:id", h.DeleteWorkspace)
		workspaces.PUT("/:id/mode", h.SetMode)
		workspaces.PUT("/:id/input", h.SetInput)

		workspaces.POST("/:id/files", h.StageFiles)
		workspaces.DELETE("/:id/files", h.ClearFiles)
		workspaces.DELETE("/:id/files/:index", h.RemoveFile)
		workspaces.GET("/:id/files/:file_id/preview", h.PreviewFile)
		workspaces.GET("/:id/result", h.GetResult)
	}

	submit := workspaces.Group("/:id/submit")
	if limiter != nil {
		submit.Use(limiter.Middleware())
	}
	{
		submit.POST("", h.Submit)
		submit.POST("/stream", h.SubmitStream)
	}
}
