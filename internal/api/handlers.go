// internal/api/handlers.go
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Corphon/StoryReelMCP/internal/config"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/services"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
	"github.com/gin-gonic/gin"
)

// 角色参考图上传限制
const maxCharAssetSize = 10 << 20

// Handler 处理API请求
type Handler struct {
	// 核心服务
	StoryboardService  *services.StoryboardService  // 故事板与草稿服务
	ConsistencyService *services.ConsistencyService // 角色连贯性分析服务
	SynthesisService   *services.SynthesisService   // 场景图生成服务
	VideoGenService    *services.VideoGenService    // 场景视频生成服务
	NarrationService   *services.NarrationService   // 配音生成服务
	AssemblyService    *services.AssemblyService    // 最终合成服务
	ProgressService    *services.ProgressService    // 进度跟踪服务
	LLMService         *services.LLMService         // LLM服务
	Assets             *storage.AssetStore          // 素材存储
	Response           *ResponseHelper              // 响应助手
}

// NewHandler 创建API处理器
func NewHandler(
	storyboardService *services.StoryboardService,
	consistencyService *services.ConsistencyService,
	synthesisService *services.SynthesisService,
	videoGenService *services.VideoGenService,
	narrationService *services.NarrationService,
	assemblyService *services.AssemblyService,
	progressService *services.ProgressService,
	llmService *services.LLMService,
	assets *storage.AssetStore,
) *Handler {
	return &Handler{
		StoryboardService:  storyboardService,
		ConsistencyService: consistencyService,
		SynthesisService:   synthesisService,
		VideoGenService:    videoGenService,
		NarrationService:   narrationService,
		AssemblyService:    assemblyService,
		ProgressService:    progressService,
		LLMService:         llmService,
		Assets:             assets,
		Response:           NewResponseHelper(),
	}
}

// slugFromQuery 从website参数推导slug，缺省为default
func (h *Handler) slugFromQuery(c *gin.Context) string {
	return storage.WebsiteToSlug(c.Query("website"))
}

// loadStoryboard 加载slug下的故事板，不存在时写404响应并返回false
func (h *Handler) loadStoryboard(c *gin.Context, slug string) ([]models.Scene, bool) {
	scenes, err := h.StoryboardService.LoadStoryboard(slug)
	if err != nil {
		if errors.Is(err, services.ErrStoryboardNotFound) {
			h.Response.NotFound(c, "分镜脚本", err.Error())
		} else {
			h.Response.InternalError(c, "加载故事板失败", err.Error())
		}
		return nil, false
	}
	return scenes, true
}

// GetHealth 健康检查
func (h *Handler) GetHealth(c *gin.Context) {
	ready, state := h.LLMService.GetProviderStatus()
	cfg := config.GetCurrentConfig()

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"llm_ready":    ready,
		"llm_state":    state,
		"llm_provider": cfg.LLMProvider,
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}

// GenerateAdIdeasRequest 广告创意生成请求
type GenerateAdIdeasRequest struct {
	URL               string `json:"url" binding:"required"`
	AdditionalContext string `json:"additional_context"`
}

// GenerateAdIdeas 抓取公司官网并生成三个广告创意（含主视觉图）
func (h *Handler) GenerateAdIdeas(c *gin.Context) {
	var req GenerateAdIdeasRequest
	if err := c.BindJSON(&req); err != nil {
		h.Response.BadRequest(c, "无效的请求参数", err.Error())
		return
	}

	ideas, err := h.StoryboardService.GenerateAdIdeas(c.Request.Context(), req.URL, req.AdditionalContext)
	if err != nil {
		if errors.Is(err, services.ErrScraperUnavailable) {
			h.Response.ServiceUnavailable(c, "网页抓取服务不可用", err.Error())
			return
		}
		h.Response.InternalError(c, "生成广告创意失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"ideas": ideas})
}

// GenerateStoryboard 根据选定创意生成完整故事板
func (h *Handler) GenerateStoryboard(c *gin.Context) {
	idea := strings.TrimSpace(c.Query("idea"))
	if idea == "" {
		h.Response.BadRequest(c, "缺少idea参数")
		return
	}

	slug := h.slugFromQuery(c)
	scenes, err := h.StoryboardService.GenerateStoryboard(c.Request.Context(), idea, slug)
	if err != nil {
		if errors.Is(err, services.ErrLLMNotReady) {
			h.Response.ServiceUnavailable(c, "LLM服务未就绪", err.Error())
			return
		}
		h.Response.InternalError(c, "故事板生成失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"slug":        slug,
		"scene_count": len(scenes),
		"storyboard":  scenes,
	})
}

// SaveStoryboard 保存客户端编辑后的故事板
func (h *Handler) SaveStoryboard(c *gin.Context) {
	var scenes []models.Scene
	if err := c.BindJSON(&scenes); err != nil {
		h.Response.BadRequest(c, "无效的故事板格式", err.Error())
		return
	}

	slug := h.slugFromQuery(c)
	if err := h.StoryboardService.SaveStoryboard(slug, scenes); err != nil {
		if errors.Is(err, services.ErrInvalidStoryboard) {
			h.Response.BadRequest(c, "故事板内容不合法", err.Error())
			return
		}
		h.Response.InternalError(c, "保存故事板失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{
		"slug":        slug,
		"scene_count": len(scenes),
		"path":        h.Assets.StoryboardPath(slug),
	}, "故事板已保存")
}

// UploadCharacterAsset 上传角色参考图，编号自动递增
func (h *Handler) UploadCharacterAsset(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.Response.BadRequest(c, "获取上传文件失败", err.Error())
		return
	}

	if file.Size > maxCharAssetSize {
		h.Response.BadRequest(c, "文件超过10MB限制")
		return
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	default:
		h.Response.BadRequest(c, "只支持png、jpg、jpeg或webp图片")
		return
	}

	src, err := file.Open()
	if err != nil {
		h.Response.InternalError(c, "读取上传文件失败", err.Error())
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxCharAssetSize+1))
	if err != nil {
		h.Response.InternalError(c, "读取上传文件失败", err.Error())
		return
	}
	if len(data) > maxCharAssetSize {
		h.Response.BadRequest(c, "文件超过10MB限制")
		return
	}

	filename, err := h.Assets.SaveCharAsset(data, ext)
	if err != nil {
		h.Response.InternalError(c, "保存角色参考图失败", err.Error())
		return
	}

	h.Response.Created(c, gin.H{
		"filename":     filename,
		"total_assets": len(h.Assets.CharAssetPaths()),
	}, "角色参考图已保存")
}

// GenerateSceneImages 为整个故事板批量生成场景图。
// 请求同步执行，进度可通过返回的task_id订阅。
func (h *Handler) GenerateSceneImages(c *gin.Context) {
	slug := h.slugFromQuery(c)

	scenes, ok := h.loadStoryboard(c, slug)
	if !ok {
		return
	}

	tracker := h.ProgressService.StartTask()
	total := len(scenes)
	completed := 0

	report := h.SynthesisService.GenerateAll(c.Request.Context(), slug, scenes, func(result models.SceneImageResult) {
		completed++
		tracker.UpdateScene(completed*100/total, result.Scene,
			fmt.Sprintf("场景 %d/%d: %s", result.Scene, total, result.Status))
	})
	report.TaskID = tracker.TaskID

	if report.Failed > 0 {
		tracker.Complete(fmt.Sprintf("图像生成完成，%d 成功 %d 失败", report.Successful, report.Failed))
	} else {
		tracker.Complete(fmt.Sprintf("图像生成完成，共 %d 个场景", report.Successful))
	}

	h.Response.Success(c, report)
}

// RegenerateSceneRequest 单场景重生成请求
type RegenerateSceneRequest struct {
	Prompt string `json:"prompt"`
}

// RegenerateScene 重新生成单个场景图，可附带自定义提示词。
// 故事板缺失时退化为纯提示词生成，不做连贯性分析。
func (h *Handler) RegenerateScene(c *gin.Context) {
	sceneIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil || sceneIndex < 1 {
		h.Response.BadRequest(c, "场景编号必须是正整数")
		return
	}

	var req RegenerateSceneRequest
	if c.Request.ContentLength > 0 {
		if err := c.BindJSON(&req); err != nil {
			h.Response.BadRequest(c, "无效的请求参数", err.Error())
			return
		}
	}
	customPrompt := strings.TrimSpace(req.Prompt)

	slug := h.slugFromQuery(c)

	description := customPrompt
	var info models.SceneConsistency

	scenes, err := h.StoryboardService.LoadStoryboard(slug)
	if err == nil {
		if scene, found := (&models.Storyboard{Scenes: scenes}).SceneAt(sceneIndex); found {
			if description == "" {
				description = scene.SceneDescription
			}
			graph := h.ConsistencyService.AnalyzeStoryboard(c.Request.Context(), scenes)
			info = graph.SceneInfo(sceneIndex)
		}
	}

	if description == "" {
		h.Response.BadRequest(c, "场景没有描述，需要提供自定义提示词")
		return
	}

	result := h.SynthesisService.GenerateScene(c.Request.Context(), slug, sceneIndex, description, info)
	if result.Status == models.SceneStatusError {
		h.Response.InternalError(c, "场景图生成失败", result.Message)
		return
	}

	h.Response.Success(c, result)
}

// GenerateSceneVideos 为已有场景图批量生成视频片段
func (h *Handler) GenerateSceneVideos(c *gin.Context) {
	slug := h.slugFromQuery(c)

	scenes, ok := h.loadStoryboard(c, slug)
	if !ok {
		return
	}

	tracker := h.ProgressService.StartTask()
	total := len(scenes)
	completed := 0

	report := h.VideoGenService.GenerateAll(c.Request.Context(), slug, scenes, func(result models.SceneVideoResult) {
		completed++
		tracker.UpdateScene(completed*100/total, result.Scene,
			fmt.Sprintf("场景 %d/%d: %s", result.Scene, total, result.Status))
	})
	report.TaskID = tracker.TaskID

	tracker.Complete(fmt.Sprintf("视频生成完成，%d 成功 %d 复用 %d 失败",
		report.Successful, report.Existing, report.Failed))

	h.Response.Success(c, report)
}

// GenerateVoiceovers 为每个场景生成配音并裁剪到视频时长
func (h *Handler) GenerateVoiceovers(c *gin.Context) {
	slug := h.slugFromQuery(c)

	scenes, ok := h.loadStoryboard(c, slug)
	if !ok {
		return
	}

	voiceID := c.Query("voice_id")

	tracker := h.ProgressService.StartTask()
	report := h.NarrationService.GenerateAll(c.Request.Context(), slug, voiceID, scenes)
	report.TaskID = tracker.TaskID

	tracker.Complete(fmt.Sprintf("配音生成完成，%d 成功 %d 失败", report.Successful, report.Failed))

	h.Response.Success(c, report)
}

// AssembleVideo 把场景视频与配音合成为最终成片
func (h *Handler) AssembleVideo(c *gin.Context) {
	slug := h.slugFromQuery(c)

	result, err := h.AssemblyService.AssembleFinalVideo(c.Request.Context(), slug)
	if err != nil {
		if errors.Is(err, services.ErrNoSceneVideos) {
			h.Response.NotFound(c, "场景视频", err.Error())
			return
		}
		h.Response.InternalError(c, "最终合成失败", err.Error())
		return
	}

	utils.GetLogger().Info("最终视频合成完成", map[string]interface{}{
		"slug": slug,
		"path": result.FinalVideo,
	})

	h.Response.Success(c, result, "最终视频合成完成")
}

// ListDrafts 列出所有草稿的概览
func (h *Handler) ListDrafts(c *gin.Context) {
	drafts, err := h.StoryboardService.ListDrafts()
	if err != nil {
		h.Response.InternalError(c, "读取草稿列表失败", err.Error())
		return
	}

	h.Response.Success(c, gin.H{"drafts": drafts})
}

// CreateDraft 建立一个空草稿目录，后续素材都会写到该目录下
func (h *Handler) CreateDraft(c *gin.Context) {
	slug, err := h.StoryboardService.EnsureDraft(c.Param("slug"))
	if err != nil {
		h.Response.BadRequest(c, "创建草稿失败", err.Error())
		return
	}

	h.Response.Created(c, h.StoryboardService.SummarizeDraft(slug), "草稿已创建")
}

// GetDraft 返回单个草稿的完整详情
func (h *Handler) GetDraft(c *gin.Context) {
	slug := c.Param("slug")

	detail, err := h.StoryboardService.GetDraft(slug)
	if err != nil {
		h.Response.NotFound(c, "草稿", err.Error())
		return
	}

	h.Response.Success(c, detail)
}

// CancelTask 取消正在跟踪的任务
func (h *Handler) CancelTask(c *gin.Context) {
	taskID := c.Param("task_id")

	tracker, exists := h.ProgressService.GetTracker(taskID)
	if !exists {
		h.Response.NotFound(c, "任务")
		return
	}

	tracker.Fail("用户取消了任务")
	h.Response.Success(c, gin.H{"task_id": taskID}, "任务已取消")
}
