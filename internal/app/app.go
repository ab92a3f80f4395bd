// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Corphon/StoryReelMCP/internal/config"
	"github.com/Corphon/StoryReelMCP/internal/di"
	"github.com/Corphon/StoryReelMCP/internal/imagegen"
	"github.com/Corphon/StoryReelMCP/internal/media"
	"github.com/Corphon/StoryReelMCP/internal/services"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/tts"
	"github.com/Corphon/StoryReelMCP/internal/utils"

	// 注册LLM提供商
	_ "github.com/Corphon/StoryReelMCP/internal/llm/providers/google"
	_ "github.com/Corphon/StoryReelMCP/internal/llm/providers/openai"
)

// InitServices 按依赖顺序初始化所有服务并注册到容器。
// 缺少外部API密钥时对应能力降级为不可用，服务本身保持可启动。
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 1. 日志
	logFile := filepath.Join(cfg.LogDir, "storyreel_"+time.Now().Format("20060102")+".log")
	if err := utils.InitLogger(logFile); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	logger := utils.GetLogger()

	// 2. 素材存储（所有生成服务的共同依赖）
	assets, err := storage.NewAssetStore(cfg.ImagesDir, cfg.AssetDir)
	if err != nil {
		return fmt.Errorf("初始化素材存储失败: %w", err)
	}
	container.Register("assets", assets)

	// 3. LLM服务（密钥缺失时注册空实现）
	llmService, err := services.NewLLMService()
	if err != nil {
		logger.Warn("LLM服务初始化失败，注册空实现", map[string]interface{}{"err": err.Error()})
		llmService = services.NewEmptyLLMService()
	}
	container.Register("llm", llmService)

	// 4. 图像/视频生成客户端
	var imageGen imagegen.Generator
	var videoGen imagegen.VideoGenerator
	if cfg.GoogleAPIKey != "" {
		client, err := imagegen.NewClient(cfg.GoogleAPIKey, cfg.ImageModel, cfg.VideoModel)
		if err != nil {
			return fmt.Errorf("初始化图像生成客户端失败: %w", err)
		}
		imageGen = client
		videoGen = client
	} else {
		logger.Warn("未配置Google API密钥，图像/视频生成不可用", nil)
	}

	// 5. 语音合成客户端
	var synthesizer tts.Synthesizer
	if cfg.TTSAPIKey != "" {
		ttsClient, err := tts.NewClient(cfg.TTSAPIKey, cfg.TTSVoiceID, cfg.TTSModelID)
		if err != nil {
			return fmt.Errorf("初始化语音合成客户端失败: %w", err)
		}
		synthesizer = ttsClient
	} else {
		logger.Warn("未配置ElevenLabs API密钥，配音生成不可用", nil)
	}

	// 6. 媒体转码
	runner := media.NewFFmpegRunner(cfg.FFmpegBin, cfg.FFprobeBin)
	container.Register("media", runner)

	// 7. 领域服务（依赖上面的客户端）
	consistencyService := services.NewConsistencyService(llmService)
	container.Register("consistency", consistencyService)

	referenceService := services.NewReferenceService(assets)
	container.Register("references", referenceService)

	synthesisService := services.NewSynthesisService(
		imageGen, consistencyService, referenceService, assets,
		time.Duration(cfg.SceneTimeout)*time.Second)
	container.Register("synthesis", synthesisService)

	videoGenService := services.NewVideoGenService(videoGen, assets)
	container.Register("videogen", videoGenService)

	narrationService := services.NewNarrationService(synthesizer, runner, assets)
	container.Register("narration", narrationService)

	assemblyService := services.NewAssemblyService(runner, assets)
	container.Register("assembly", assemblyService)

	storyboardService := services.NewStoryboardService(
		llmService, imageGen, assets,
		cfg.ScraperScript, time.Duration(cfg.ScraperTimeout)*time.Second)
	container.Register("storyboard", storyboardService)

	// 8. 进度跟踪
	progressService := services.NewProgressService()
	container.Register("progress", progressService)

	// 定期清理已结束的任务记录
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			progressService.CleanupCompletedTasks(2 * time.Hour)
		}
	}()

	logger.Info("服务初始化完成", map[string]interface{}{
		"services": len(container.GetNames()),
	})

	return nil
}
