// internal/services/synthesis_service.go
package services

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Corphon/StoryReelMCP/internal/imagegen"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// 级联策略名
const (
	StrategyFullReferences     = "full_references"
	StrategyNoReferences       = "no_references"
	StrategyPreviousScene      = "previous_scene"
	StrategyCharacterReference = "character_reference"
	StrategyTextOnly           = "text_only"
)

// SynthesisService 负责场景图像的级联生成。
// 每个策略独立尝试，失败只意味着进入下一档，单场景耗尽才算失败。
type SynthesisService struct {
	generator    imagegen.Generator
	consistency  *ConsistencyService
	refs         *ReferenceService
	assets       *storage.AssetStore
	sceneTimeout time.Duration
}

// NewSynthesisService 创建场景图像生成服务
func NewSynthesisService(generator imagegen.Generator, consistency *ConsistencyService, refs *ReferenceService, assets *storage.AssetStore, sceneTimeout time.Duration) *SynthesisService {
	if sceneTimeout <= 0 {
		sceneTimeout = 120 * time.Second
	}
	return &SynthesisService{
		generator:    generator,
		consistency:  consistency,
		refs:         refs,
		assets:       assets,
		sceneTimeout: sceneTimeout,
	}
}

// sceneStrategy 级联中的一档：策略名加参考图装配方式
type sceneStrategy struct {
	name string
	// 仅在上一档因参考图被拒时才尝试
	onlyAfterRejection bool
	buildParts         func() ([]imagegen.Part, bool)
}

// buildPrompt 组装生成提示词，连贯性要求写进文本
func buildPrompt(description string, info models.SceneConsistency) string {
	parts := []string{
		"Generate a cinematic 16:9 widescreen PNG image depicting the scene below with consistent lighting and style.",
	}

	if info.IncludePrimaryCharacter {
		parts = append(parts, "Use the main character reference images to maintain character appearance consistency.")
	}

	if len(info.ReferenceScenes) > 0 {
		parts = append(parts, fmt.Sprintf(
			"IMPORTANT: Maintain visual consistency with characters from scene(s) %v. "+
				"The characters in this scene should match their appearance in the reference images provided.",
			info.ReferenceScenes))
	}

	parts = append(parts,
		"Use all reference images for visual style consistency, but create the new image in 16:9 aspect ratio.")
	parts = append(parts, "Scene description: "+description)

	return strings.Join(parts, " ")
}

// loadImageParts 按路径装载参考图，读不到的直接丢弃
func (s *SynthesisService) loadImageParts(paths []string) []imagegen.Part {
	var parts []imagegen.Part
	for _, path := range paths {
		data, err := s.assets.ReadAsset(path)
		if err != nil {
			utils.GetLogger().Warn("参考图读取失败，跳过", map[string]interface{}{
				"path": path,
				"err":  err.Error(),
			})
			continue
		}
		parts = append(parts, imagegen.ImagePart(data, mimeTypeForImage(path)))
	}
	return parts
}

// mimeTypeForImage 按扩展名推断参考图的mime类型
func mimeTypeForImage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// strategies 为一个场景构建级联策略表
func (s *SynthesisService) strategies(slug string, sceneIndex int, plan ReferencePlan, prompt string) []sceneStrategy {
	promptPart := imagegen.TextPart(prompt)

	// 没有任何参考图时级联退化为纯文本一档
	if plan.TotalImages() == 0 {
		return []sceneStrategy{
			{
				name: StrategyTextOnly,
				buildParts: func() ([]imagegen.Part, bool) {
					return []imagegen.Part{promptPart}, true
				},
			},
		}
	}

	return []sceneStrategy{
		{
			name: StrategyFullReferences,
			buildParts: func() ([]imagegen.Part, bool) {
				parts := s.loadImageParts(append(append([]string{}, plan.CharAssetPaths...), plan.ScenePaths...))
				return append(parts, promptPart), true
			},
		},
		{
			name:               StrategyNoReferences,
			onlyAfterRejection: true,
			buildParts: func() ([]imagegen.Part, bool) {
				return []imagegen.Part{promptPart}, true
			},
		},
		{
			name: StrategyPreviousScene,
			buildParts: func() ([]imagegen.Part, bool) {
				if sceneIndex <= 1 {
					return nil, false
				}
				path := s.assets.SceneImagePath(slug, sceneIndex-1)
				if !s.assets.AssetExists(path) {
					return nil, false
				}
				parts := s.loadImageParts([]string{path})
				if len(parts) == 0 {
					return nil, false
				}
				return append(parts, promptPart), true
			},
		},
		{
			name: StrategyCharacterReference,
			buildParts: func() ([]imagegen.Part, bool) {
				if len(plan.AdvisoryRefs) == 0 {
					return nil, false
				}
				path := s.assets.SceneImagePath(slug, plan.AdvisoryRefs[0])
				if !s.assets.AssetExists(path) {
					return nil, false
				}
				parts := s.loadImageParts([]string{path})
				if len(parts) == 0 {
					return nil, false
				}
				return append(parts, promptPart), true
			},
		},
		{
			name: StrategyTextOnly,
			buildParts: func() ([]imagegen.Part, bool) {
				return []imagegen.Part{promptPart}, true
			},
		},
	}
}

// attempt 执行一档策略，每档有独立超时
func (s *SynthesisService) attempt(ctx context.Context, parts []imagegen.Part) (*imagegen.Result, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.sceneTimeout)
	defer cancel()

	return s.generator.GenerateImage(attemptCtx, parts)
}

// GenerateScene 为单个场景生成图像，按级联逐档降级。
// 成功时把图像原子写入规范路径并记录胜出策略；全部耗尽记为该场景失败。
func (s *SynthesisService) GenerateScene(ctx context.Context, slug string, sceneIndex int, description string, info models.SceneConsistency) models.SceneImageResult {
	logger := utils.GetLogger()

	result := models.SceneImageResult{
		Scene:             sceneIndex,
		IncludedCharacter: info.IncludePrimaryCharacter,
		ReferenceScenes:   info.ReferenceScenes,
	}

	if s.generator == nil {
		result.Status = models.SceneStatusError
		result.Message = "图像生成客户端未配置"
		return result
	}

	plan := s.refs.BuildPlan(slug, sceneIndex, info)
	prompt := buildPrompt(description, info)

	logger.Info("开始生成场景图", map[string]interface{}{
		"scene":       sceneIndex,
		"char_assets": len(plan.CharAssetPaths),
		"scene_refs":  plan.SceneRefs,
	})

	lastRejected := false
	var lastFailure string

	for _, strat := range s.strategies(slug, sceneIndex, plan, prompt) {
		if strat.onlyAfterRejection && !lastRejected {
			continue
		}

		parts, ok := strat.buildParts()
		if !ok {
			continue
		}

		genResult, err := s.attempt(ctx, parts)
		if err != nil {
			// 传输错误与超时同样视为该档失败
			lastRejected = false
			lastFailure = err.Error()
			logger.Warn("策略失败", map[string]interface{}{
				"scene":    sceneIndex,
				"strategy": strat.name,
				"err":      err.Error(),
			})
			continue
		}

		if genResult.Rejected() {
			lastRejected = genResult.FinishReason == imagegen.FinishImageOther
			lastFailure = "生成被拒: " + genResult.FinishReason
			logger.Warn("策略被模型拒绝", map[string]interface{}{
				"scene":         sceneIndex,
				"strategy":      strat.name,
				"finish_reason": genResult.FinishReason,
			})
			continue
		}

		outPath := s.assets.SceneImagePath(slug, sceneIndex)
		if err := s.assets.WriteAsset(outPath, genResult.Data); err != nil {
			result.Status = models.SceneStatusError
			result.Message = fmt.Sprintf("保存场景图失败: %v", err)
			return result
		}

		logger.Info("场景图生成成功", map[string]interface{}{
			"scene":    sceneIndex,
			"strategy": strat.name,
			"path":     outPath,
		})

		result.Status = models.SceneStatusSuccess
		result.Strategy = strat.name
		result.OutputPath = outPath
		return result
	}

	result.Status = models.SceneStatusError
	result.Message = "所有生成策略均失败: " + lastFailure
	return result
}

// GenerateAll 对整个故事板按场景编号升序逐个生成图像。
// 先做一次整体角色连贯性分析，缺少描述的场景跳过，单场景失败不阻断后续。
func (s *SynthesisService) GenerateAll(ctx context.Context, slug string, scenes []models.Scene, progress func(models.SceneImageResult)) models.BatchImageReport {
	graph := s.consistency.AnalyzeStoryboard(ctx, scenes)

	report := models.BatchImageReport{
		TotalScenes: len(scenes),
	}

	for i, scene := range scenes {
		sceneIndex := i + 1

		var result models.SceneImageResult
		if !scene.HasDescription() {
			result = models.SceneImageResult{
				Scene:   sceneIndex,
				Status:  models.SceneStatusSkipped,
				Message: "缺少场景描述",
			}
		} else {
			result = s.GenerateScene(ctx, slug, sceneIndex, scene.SceneDescription, graph.SceneInfo(sceneIndex))
		}

		switch result.Status {
		case models.SceneStatusSuccess:
			report.Successful++
		case models.SceneStatusSkipped:
			report.Skipped++
		default:
			report.Failed++
		}

		report.Results = append(report.Results, result)

		if progress != nil {
			progress(result)
		}
	}

	return report
}
