// internal/services/storyboard_service.go
package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corphon/StoryReelMCP/internal/imagegen"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// 错误定义
var (
	ErrStoryboardNotFound = errors.New("故事板不存在")
	ErrInvalidStoryboard  = errors.New("故事板格式不合法")
	ErrScraperUnavailable = errors.New("网页抓取脚本不可用")
)

// 每次生成的广告创意数量
const adIdeaCount = 3

// 故事板生成提示词，{STORY_SUMMARY}会被替换为选定的创意
const storyboardPromptTemplate = `You are a storyboard writer for short promotional videos.
Based on the story summary below, write a storyboard of 8 to 12 scenes.

Story summary: {STORY_SUMMARY}

Each scene needs a vivid visual description suitable for image generation and a short
voice-over line. Keep characters consistent across scenes and refer to them the same
way every time they appear.

Respond with a JSON array only, no commentary:
[
  {"scene_description": "...", "voice_over_text": "..."},
  {"scene_description": "...", "voice_over_text": "..."}
]`

// StoryboardService 管理故事板文档并生成广告创意
type StoryboardService struct {
	llm            *LLMService
	imageGen       imagegen.Generator
	assets         *storage.AssetStore
	scraperScript  string
	scraperTimeout time.Duration
}

// NewStoryboardService 创建故事板服务
func NewStoryboardService(llmService *LLMService, imageGen imagegen.Generator, assets *storage.AssetStore, scraperScript string, scraperTimeout time.Duration) *StoryboardService {
	if scraperTimeout <= 0 {
		scraperTimeout = 75 * time.Second
	}
	return &StoryboardService{
		llm:            llmService,
		imageGen:       imageGen,
		assets:         assets,
		scraperScript:  scraperScript,
		scraperTimeout: scraperTimeout,
	}
}

// SaveStoryboard 校验并保存slug的故事板，同时建立对应的草稿目录
func (s *StoryboardService) SaveStoryboard(slug string, scenes []models.Scene) error {
	if len(scenes) == 0 {
		return fmt.Errorf("%w: 场景列表为空", ErrInvalidStoryboard)
	}
	if _, err := s.EnsureDraft(slug); err != nil {
		return err
	}
	return s.assets.SaveStoryboard(slug, scenes)
}

// LoadStoryboard 读取slug的故事板场景列表
func (s *StoryboardService) LoadStoryboard(slug string) ([]models.Scene, error) {
	if !s.assets.HasStoryboard(slug) {
		return nil, fmt.Errorf("%w: slug=%s", ErrStoryboardNotFound, slug)
	}

	var scenes []models.Scene
	if err := s.assets.LoadStoryboard(slug, &scenes); err != nil {
		return nil, err
	}
	if len(scenes) == 0 {
		return nil, fmt.Errorf("%w: 场景列表为空", ErrInvalidStoryboard)
	}
	return scenes, nil
}

// GenerateStoryboard 根据选定的创意生成故事板并保存。
// 同时写入旧版default位置，保持与早期客户端兼容。
func (s *StoryboardService) GenerateStoryboard(ctx context.Context, selectedIdea, slug string) ([]models.Scene, error) {
	if strings.TrimSpace(selectedIdea) == "" {
		return nil, errors.New("创意摘要不能为空")
	}

	prompt := strings.ReplaceAll(storyboardPromptTemplate, "{STORY_SUMMARY}", selectedIdea)

	var scenes []models.Scene
	if err := s.llm.CreateStructuredCompletion(ctx, prompt, "", &scenes); err != nil {
		return nil, fmt.Errorf("故事板生成失败: %w", err)
	}

	if len(scenes) == 0 {
		return nil, fmt.Errorf("%w: 模型未返回场景", ErrInvalidStoryboard)
	}

	if err := s.SaveStoryboard(slug, scenes); err != nil {
		return nil, err
	}
	if slug != storage.DefaultSlug {
		if err := s.assets.SaveStoryboard(storage.DefaultSlug, scenes); err != nil {
			utils.GetLogger().Warn("旧版default故事板写入失败", map[string]interface{}{"err": err.Error()})
		}
	}

	utils.GetLogger().Info("故事板生成完成", map[string]interface{}{
		"slug":   slug,
		"scenes": len(scenes),
	})

	return scenes, nil
}

// scrapedContext 抓取脚本输出的网页上下文
type scrapedContext struct {
	SourceURL   string `json:"sourceUrl"`
	Title       string `json:"title"`
	TextContent string `json:"textContent"`
}

// adIdeasResult 广告创意的结构化输出
type adIdeasResult struct {
	Ideas []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		ImagePrompt string `json:"image_prompt"`
	} `json:"ideas"`
}

// GenerateAdIdeas 抓取公司网站并生成带配图的广告创意
func (s *StoryboardService) GenerateAdIdeas(ctx context.Context, companyURL, additionalContext string) ([]models.AdIdea, error) {
	if s.imageGen == nil {
		return nil, errors.New("图像生成客户端未配置")
	}

	pageContext, err := s.runScraper(ctx, companyURL)
	if err != nil {
		return nil, err
	}

	systemPrompt := "You are a senior creative strategist crafting marketing campaigns. " +
		"Create distinct ad concepts tailored to the company information provided. " +
		"Always respond with valid JSON matching the requested schema. " +
		"Do not include Markdown, code fences, or commentary outside of the JSON response."

	if additionalContext == "" {
		additionalContext = "None provided."
	}

	prompt := fmt.Sprintf(`Company URL: %s
Website Title: %s
Primary website excerpt:
%s

Additional context from requester:
%s

Generate %d distinct, imaginative ad concepts. Return JSON with exactly this structure:
{
  "ideas": [
    {
      "title": "<=12 word hook capturing the concept.",
      "description": "2-3 sentences describing the creative idea and how it ties to the company.",
      "image_prompt": "Detailed visual direction for an illustrative hero image."
    }
  ]
}
Make each idea unique, concrete, and rooted in the supplied context.`,
		coalesce(pageContext.SourceURL, companyURL),
		coalesce(pageContext.Title, "Unknown"),
		truncateText(pageContext.TextContent, 2500),
		additionalContext,
		adIdeaCount)

	var result adIdeasResult
	if err := s.llm.CreateStructuredCompletion(ctx, prompt, systemPrompt, &result); err != nil {
		return nil, fmt.Errorf("广告创意生成失败: %w", err)
	}

	if len(result.Ideas) < adIdeaCount {
		return nil, fmt.Errorf("模型返回的创意数量不足: 期望%d个, 实际%d个", adIdeaCount, len(result.Ideas))
	}

	ideas := make([]models.AdIdea, 0, adIdeaCount)
	for _, idea := range result.Ideas[:adIdeaCount] {
		title := strings.TrimSpace(idea.Title)
		description := strings.TrimSpace(idea.Description)
		imagePrompt := strings.TrimSpace(idea.ImagePrompt)

		if title == "" || description == "" || imagePrompt == "" {
			return nil, errors.New("模型返回的创意缺少必要字段")
		}

		genResult, err := s.imageGen.GenerateImage(ctx, []imagegen.Part{imagegen.TextPart(imagePrompt)})
		if err != nil {
			return nil, fmt.Errorf("创意配图生成失败 %q: %w", title, err)
		}
		if genResult.Rejected() || len(genResult.Data) == 0 {
			return nil, fmt.Errorf("创意配图生成被拒 %q: %s", title, genResult.FinishReason)
		}

		ideas = append(ideas, models.AdIdea{
			Title:       title,
			Description: description,
			ImagePrompt: imagePrompt,
			Image:       base64.StdEncoding.EncodeToString(genResult.Data),
		})
	}

	return ideas, nil
}

// runScraper 执行外部抓取脚本并解析其JSON输出
func (s *StoryboardService) runScraper(ctx context.Context, url string) (*scrapedContext, error) {
	if s.scraperScript == "" {
		return nil, ErrScraperUnavailable
	}
	if _, err := os.Stat(s.scraperScript); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrScraperUnavailable, s.scraperScript)
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, s.scraperTimeout)
	defer cancel()

	cmd := exec.CommandContext(scrapeCtx, "node", s.scraperScript, url)
	cmd.Dir = filepath.Dir(s.scraperScript)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if scrapeCtx.Err() == context.DeadlineExceeded {
			return nil, errors.New("网页抓取超时")
		}
		return nil, fmt.Errorf("网页抓取失败: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	blob, err := extractJSONBlob(stdout.String())
	if err != nil {
		return nil, fmt.Errorf("抓取输出不是合法JSON: %w", err)
	}

	var pageContext scrapedContext
	if err := json.Unmarshal([]byte(blob), &pageContext); err != nil {
		return nil, fmt.Errorf("解析抓取输出失败: %w", err)
	}

	return &pageContext, nil
}

// extractJSONBlob 从混杂输出中定位最后一个完整的JSON对象
func extractJSONBlob(raw string) (string, error) {
	var candidates []string
	depth := 0
	start := -1

	for i, char := range raw {
		switch char {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					candidates = append(candidates, raw[start:i+1])
					start = -1
				}
			}
		}
	}

	for i := len(candidates) - 1; i >= 0; i-- {
		snippet := strings.TrimSpace(candidates[i])
		if json.Valid([]byte(snippet)) {
			return snippet, nil
		}
	}

	return "", errors.New("输出中没有完整的JSON对象")
}

// truncateText 截断网页正文，尽量在词边界断开
func truncateText(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= limit {
		return trimmed
	}

	truncated := trimmed[:limit]
	if lastSpace := strings.LastIndex(truncated, " "); lastSpace > 200 {
		truncated = truncated[:lastSpace]
	}
	return strings.TrimSpace(truncated) + " ..."
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---- 草稿清单 ----

// SummarizeDraft 汇总一个slug下的素材情况
func (s *StoryboardService) SummarizeDraft(slug string) models.DraftSummary {
	safe := storage.SafeSlug(slug)

	summary := models.DraftSummary{
		Slug:          safe,
		HasStoryboard: s.assets.HasStoryboard(safe),
		Scenes:        len(s.assets.ListSceneImages(safe)),
		Voiceovers:    len(s.assets.ListVoiceovers(safe)),
		Videos:        len(s.assets.ListSceneVideos(safe)),
	}

	finalPath := s.assets.FinalVideoPath(safe)
	if s.assets.AssetExists(finalPath) {
		summary.FinalVideo = finalPath
	}

	return summary
}

// ListDrafts 列出所有草稿的概览
func (s *StoryboardService) ListDrafts() ([]models.DraftSummary, error) {
	slugs, err := s.assets.ListSlugs()
	if err != nil {
		return nil, err
	}

	drafts := make([]models.DraftSummary, 0, len(slugs))
	for _, slug := range slugs {
		drafts = append(drafts, s.SummarizeDraft(slug))
	}
	return drafts, nil
}

// GetDraft 返回一个草稿的完整详情
func (s *StoryboardService) GetDraft(slug string) (*models.DraftDetail, error) {
	safe := storage.SafeSlug(slug)

	if _, err := os.Stat(s.assets.SlugDir(safe)); err != nil {
		return nil, fmt.Errorf("草稿不存在: %s", safe)
	}

	detail := &models.DraftDetail{
		DraftSummary:   s.SummarizeDraft(safe),
		SceneImages:    s.assets.ListSceneImages(safe),
		VoiceoverFiles: s.assets.ListVoiceovers(safe),
	}

	for _, video := range s.assets.ListSceneVideos(safe) {
		detail.VideoFiles = append(detail.VideoFiles, video.Path)
	}

	if detail.HasStoryboard {
		var scenes []models.Scene
		if err := s.assets.LoadStoryboard(safe, &scenes); err == nil {
			detail.Storyboard = scenes
		}
	}

	return detail, nil
}

// EnsureDraft 确保slug对应的草稿目录存在
func (s *StoryboardService) EnsureDraft(slug string) (string, error) {
	safe := storage.SafeSlug(slug)
	if safe == "" {
		return "", errors.New("需要提供slug或website")
	}

	if err := os.MkdirAll(s.assets.SlugDir(safe), 0755); err != nil {
		return "", fmt.Errorf("创建草稿目录失败: %w", err)
	}
	return safe, nil
}
