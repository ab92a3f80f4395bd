// internal/api/router.go
package api

import (
	"fmt"
	"net/http"

	"github.com/Corphon/StoryReelMCP/internal/config"
	"github.com/Corphon/StoryReelMCP/internal/di"
	"github.com/Corphon/StoryReelMCP/internal/services"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	// 获取配置
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// 只从容器获取服务，不再创建新实例
	storyboardService, ok := container.Get("storyboard").(*services.StoryboardService)
	if !ok {
		return nil, fmt.Errorf("故事板服务未正确初始化")
	}

	consistencyService, ok := container.Get("consistency").(*services.ConsistencyService)
	if !ok {
		return nil, fmt.Errorf("连贯性分析服务未正确初始化")
	}

	synthesisService, ok := container.Get("synthesis").(*services.SynthesisService)
	if !ok {
		return nil, fmt.Errorf("场景图生成服务未正确初始化")
	}

	videoGenService, ok := container.Get("videogen").(*services.VideoGenService)
	if !ok {
		return nil, fmt.Errorf("视频生成服务未正确初始化")
	}

	narrationService, ok := container.Get("narration").(*services.NarrationService)
	if !ok {
		return nil, fmt.Errorf("配音服务未正确初始化")
	}

	assemblyService, ok := container.Get("assembly").(*services.AssemblyService)
	if !ok {
		return nil, fmt.Errorf("合成服务未正确初始化")
	}

	progressService, ok := container.Get("progress").(*services.ProgressService)
	if !ok {
		return nil, fmt.Errorf("进度服务未正确初始化")
	}

	llmService, ok := container.Get("llm").(*services.LLMService)
	if !ok {
		return nil, fmt.Errorf("LLM服务未正确初始化")
	}

	assets, ok := container.Get("assets").(*storage.AssetStore)
	if !ok {
		return nil, fmt.Errorf("素材存储未正确初始化")
	}

	// 创建API处理器 - 只传递从容器获取的服务
	handler := NewHandler(
		storyboardService,
		consistencyService,
		synthesisService,
		videoGenService,
		narrationService,
		assemblyService,
		progressService,
		llmService,
		assets,
	)

	// 创建路由
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// 启用CORS
	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())

	// 生成产物静态服务
	r.Static("/assets/scenes", cfg.AssetDir)
	r.Static("/assets/images", cfg.ImagesDir)

	// 健康检查
	r.GET("/health", handler.GetHealth)

	// WebSocket 进度订阅
	r.GET("/ws/progress/:task_id", handler.ProgressWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	api.Use(DefaultRateLimit())
	{
		// ===============================
		// 创意与故事板
		// ===============================
		api.POST("/ad-ideas", handler.GenerateAdIdeas)

		storyboardGroup := api.Group("/storyboard")
		{
			storyboardGroup.POST("", handler.SaveStoryboard)
			storyboardGroup.POST("/generate", handler.GenerateStoryboard)
		}

		// ===============================
		// 角色参考图
		// ===============================
		api.POST("/assets/character", handler.UploadCharacterAsset)

		// ===============================
		// 场景生成（图像生成占用模型配额，单独限流）
		// ===============================
		scenesGroup := api.Group("/scenes")
		scenesGroup.Use(GenerationRateLimit())
		{
			scenesGroup.POST("/generate", handler.GenerateSceneImages)
			scenesGroup.POST("/:index/regenerate", handler.RegenerateScene)
		}

		// ===============================
		// 视频与配音
		// ===============================
		videosGroup := api.Group("/videos")
		videosGroup.Use(GenerationRateLimit())
		{
			videosGroup.POST("/generate", handler.GenerateSceneVideos)
			videosGroup.POST("/assemble", handler.AssembleVideo)
		}

		api.POST("/voiceovers/generate", handler.GenerateVoiceovers)

		// ===============================
		// 草稿清单
		// ===============================
		draftsGroup := api.Group("/drafts")
		{
			draftsGroup.GET("", handler.ListDrafts)
			draftsGroup.GET("/:slug", handler.GetDraft)
			draftsGroup.POST("/:slug", handler.CreateDraft)
		}

		// ===============================
		// 任务管理
		// ===============================
		api.POST("/tasks/:task_id/cancel", handler.CancelTask)
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
