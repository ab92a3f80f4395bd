// internal/services/videogen_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Corphon/StoryReelMCP/internal/imagegen"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// 单个场景视频从提交到下载完成的超时，覆盖长任务的轮询过程
const videoGenerateTimeout = 10 * time.Minute

// VideoGenService 以场景图为参考为每个场景生成视频片段
type VideoGenService struct {
	videos imagegen.VideoGenerator
	assets *storage.AssetStore
}

// NewVideoGenService 创建场景视频生成服务
func NewVideoGenService(videos imagegen.VideoGenerator, assets *storage.AssetStore) *VideoGenService {
	return &VideoGenService{
		videos: videos,
		assets: assets,
	}
}

// GenerateScene 为单个场景生成视频片段。
// 场景图必须已经生成，视频以场景描述为提示、场景图为参考。
func (s *VideoGenService) GenerateScene(ctx context.Context, slug string, sceneIndex int, description string) models.SceneVideoResult {
	result := models.SceneVideoResult{Scene: sceneIndex}

	if s.videos == nil {
		result.Status = models.SceneStatusError
		result.Message = "视频生成客户端未配置"
		return result
	}

	if description == "" {
		result.Status = models.SceneStatusError
		result.Message = "缺少场景描述"
		return result
	}

	imagePath := s.assets.SceneImagePath(slug, sceneIndex)
	if !s.assets.AssetExists(imagePath) {
		result.Status = models.SceneStatusError
		result.Message = fmt.Sprintf("场景图不存在: %s", imagePath)
		return result
	}

	imageData, err := s.assets.ReadAsset(imagePath)
	if err != nil {
		result.Status = models.SceneStatusError
		result.Message = err.Error()
		return result
	}

	utils.GetLogger().Info("开始生成场景视频", map[string]interface{}{
		"scene": sceneIndex,
		"slug":  slug,
	})

	videoCtx, cancel := context.WithTimeout(ctx, videoGenerateTimeout)
	videoData, err := s.videos.GenerateVideo(videoCtx, description, imageData, "image/png")
	cancel()
	if err != nil {
		result.Status = models.SceneStatusError
		result.Message = err.Error()
		return result
	}

	outPath := s.assets.SceneVideoPath(slug, sceneIndex)
	if err := s.assets.WriteAsset(outPath, videoData); err != nil {
		result.Status = models.SceneStatusError
		result.Message = err.Error()
		return result
	}

	utils.GetLogger().Info("场景视频生成成功", map[string]interface{}{
		"scene": sceneIndex,
		"path":  outPath,
	})

	result.Status = models.SceneStatusSuccess
	result.OutputPath = outPath
	return result
}

// existingResults 把磁盘上已有的场景视频转成结果记录
func (s *VideoGenService) existingResults(slug string) []models.SceneVideoResult {
	var results []models.SceneVideoResult
	for _, video := range s.assets.ListSceneVideos(slug) {
		results = append(results, models.SceneVideoResult{
			Scene:      video.Index,
			Status:     models.SceneStatusExisting,
			OutputPath: video.Path,
		})
	}
	return results
}

// GenerateAll 顺序为所有场景生成视频片段。
// 整批没有任何可播放产物而磁盘上有旧片段时，退回报告旧片段。
func (s *VideoGenService) GenerateAll(ctx context.Context, slug string, scenes []models.Scene, progress func(models.SceneVideoResult)) models.BatchVideoReport {
	fallbackExisting := s.existingResults(slug)

	var results []models.SceneVideoResult

	for i, scene := range scenes {
		result := s.GenerateScene(ctx, slug, i+1, scene.SceneDescription)
		results = append(results, result)

		if progress != nil {
			progress(result)
		}
	}

	playable := 0
	for _, result := range results {
		if result.Status == models.SceneStatusSuccess || result.Status == models.SceneStatusExisting {
			playable++
		}
	}

	if playable == 0 && len(fallbackExisting) > 0 {
		utils.GetLogger().Warn("本批视频全部失败，退回已有片段", map[string]interface{}{
			"slug":     slug,
			"existing": len(fallbackExisting),
		})
		results = fallbackExisting
	}

	report := models.BatchVideoReport{
		TotalScenes: len(scenes),
		Results:     results,
	}
	for _, result := range results {
		switch result.Status {
		case models.SceneStatusSuccess:
			report.Successful++
		case models.SceneStatusExisting:
			report.Existing++
		default:
			report.Failed++
		}
	}

	return report
}
