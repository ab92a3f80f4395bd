// internal/services/assembly_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Corphon/StoryReelMCP/internal/media"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// ErrNoSceneVideos 请求的slug下没有任何可拼接的场景视频
var ErrNoSceneVideos = errors.New("没有可拼接的场景视频")

// AssemblyService 把场景视频与配音合成最终成片
type AssemblyService struct {
	media  media.Runner
	assets *storage.AssetStore
}

// NewAssemblyService 创建成片合成服务
func NewAssemblyService(runner media.Runner, assets *storage.AssetStore) *AssemblyService {
	return &AssemblyService{
		media:  runner,
		assets: assets,
	}
}

// AssembleFinalVideo 合成slug的最终视频。
// 场景视频按编号数值升序拼接；有同编号配音的场景用配音整体替换
// 原音轨，没有的原样保留。请求slug没有片段时退回default的片段。
func (s *AssemblyService) AssembleFinalVideo(ctx context.Context, slug string) (*models.AssembleResult, error) {
	logger := utils.GetLogger()

	sourceSlug := slug
	videos := s.assets.ListSceneVideos(sourceSlug)

	// 仅当请求slug完全没有内容时才退回default
	if len(videos) == 0 && slug != storage.DefaultSlug {
		if fallback := s.assets.ListSceneVideos(storage.DefaultSlug); len(fallback) > 0 {
			sourceSlug = storage.DefaultSlug
			videos = fallback
			logger.Warn("请求slug没有场景视频，退回default素材", map[string]interface{}{"slug": slug})
		}
	}

	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: slug=%s", ErrNoSceneVideos, slug)
	}

	finalPath := s.assets.FinalVideoPath(slug)
	slugDir := filepath.Dir(finalPath)
	if err := os.MkdirAll(slugDir, 0755); err != nil {
		return nil, fmt.Errorf("创建成片目录失败: %w", err)
	}

	// 中间产物放在成片目录下，结束后无论成败都清理
	var tempFiles []string
	defer func() {
		for _, tempFile := range tempFiles {
			os.Remove(tempFile)
		}
	}()

	var segments []string
	for _, video := range videos {
		tempPath := filepath.Join(slugDir, fmt.Sprintf("temp_scene_%d.mp4", video.Index))

		voiceoverPath := s.assets.VoiceoverPath(sourceSlug, video.Index)
		if s.assets.AssetExists(voiceoverPath) {
			// 配音整体替换场景自带音轨
			if err := s.media.ReplaceAudio(ctx, video.Path, voiceoverPath, tempPath); err != nil {
				return nil, fmt.Errorf("场景%d音轨替换失败: %w", video.Index, err)
			}
		} else {
			logger.Info("场景没有配音，保留原音轨", map[string]interface{}{"scene": video.Index})
			if err := s.media.CopyVideo(ctx, video.Path, tempPath); err != nil {
				return nil, fmt.Errorf("场景%d转存失败: %w", video.Index, err)
			}
		}

		tempFiles = append(tempFiles, tempPath)
		segments = append(segments, tempPath)
	}

	if err := s.media.Concat(ctx, segments, finalPath); err != nil {
		return nil, fmt.Errorf("拼接成片失败: %w", err)
	}

	if !s.assets.AssetExists(finalPath) {
		return nil, errors.New("成片未生成，请检查日志")
	}

	logger.Info("成片合成完成", map[string]interface{}{
		"slug":   slug,
		"scenes": len(segments),
		"path":   finalPath,
	})

	return &models.AssembleResult{
		FinalVideo: finalPath,
		VideoDir:   filepath.Join(s.assets.SlugDir(sourceSlug), "video"),
		AudioDir:   filepath.Join(s.assets.SlugDir(sourceSlug), "audio"),
		SceneCount: len(segments),
	}, nil
}
