// internal/services/narration_service.go
package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Corphon/StoryReelMCP/internal/media"
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/tts"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// 同时进行的语音合成上限
const defaultNarrationWorkers = 3

// 单次语音合成请求的超时
const synthesizeTimeout = 60 * time.Second

// NarrationService 为故事板场景生成配音。
// 配音时长若超过对应场景视频的时长则裁剪到视频时长。
type NarrationService struct {
	tts     tts.Synthesizer
	media   media.Runner
	assets  *storage.AssetStore
	workers int
}

// NewNarrationService 创建配音生成服务
func NewNarrationService(synthesizer tts.Synthesizer, runner media.Runner, assets *storage.AssetStore) *NarrationService {
	return &NarrationService{
		tts:     synthesizer,
		media:   runner,
		assets:  assets,
		workers: defaultNarrationWorkers,
	}
}

// GenerateScene 为单个场景合成配音并按需裁剪
func (s *NarrationService) GenerateScene(ctx context.Context, slug string, sceneIndex int, text, voiceID string) models.NarrationResult {
	result := models.NarrationResult{Scene: sceneIndex}

	if text == "" {
		result.Error = "配音文本为空"
		return result
	}

	if s.tts == nil {
		result.Error = "语音合成客户端未配置"
		return result
	}

	if voiceID == "" {
		voiceID = s.tts.DefaultVoiceID()
	}
	result.VoiceID = voiceID

	ttsCtx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
	audio, err := s.tts.Synthesize(ttsCtx, text, voiceID)
	cancel()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	audioPath := s.assets.VoiceoverPath(slug, sceneIndex)
	if err := s.assets.WriteAsset(audioPath, audio); err != nil {
		result.Error = err.Error()
		return result
	}
	result.AudioPath = audioPath

	// 对应场景视频的时长是配音的上限
	var maxDuration float64
	videoPath := s.assets.SceneVideoPath(slug, sceneIndex)
	if s.assets.AssetExists(videoPath) {
		if duration, err := s.media.ProbeDuration(ctx, videoPath); err == nil {
			maxDuration = duration
		}
	}

	audioDuration, err := s.media.ProbeDuration(ctx, audioPath)
	if err != nil {
		// 时长探测失败不影响配音本身
		utils.GetLogger().Warn("配音时长探测失败", map[string]interface{}{
			"scene": sceneIndex,
			"err":   err.Error(),
		})
		result.Success = true
		return result
	}

	if maxDuration > 0 && audioDuration > maxDuration {
		if err := s.media.TrimAudio(ctx, audioPath, maxDuration); err != nil {
			result.Error = err.Error()
			return result
		}
		result.ClippedToVideo = true
		result.MaxDuration = maxDuration

		if trimmed, err := s.media.ProbeDuration(ctx, audioPath); err == nil {
			audioDuration = trimmed
		} else {
			audioDuration = maxDuration
		}
	}

	result.DurationSeconds = audioDuration
	result.Success = true
	return result
}

// GenerateAll 为故事板所有场景并行生成配音。
// 没有配音文本的场景直接跳过，单场景失败记录在结果里，不中断整批。
func (s *NarrationService) GenerateAll(ctx context.Context, slug, voiceID string, scenes []models.Scene) models.BatchNarrationReport {
	var (
		mu      sync.Mutex
		results []models.NarrationResult
	)

	group, groupCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.workers)

	for i, scene := range scenes {
		if scene.VoiceOverText == "" {
			continue
		}

		sceneIndex := i + 1
		text := scene.VoiceOverText

		group.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
			defer func() { <-sem }()

			result := s.GenerateScene(groupCtx, slug, sceneIndex, text, voiceID)

			mu.Lock()
			results = append(results, result)
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		utils.GetLogger().Warn("配音批处理提前结束", map[string]interface{}{"err": err.Error()})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Scene < results[j].Scene
	})

	report := models.BatchNarrationReport{
		TotalScenes: len(results),
		Results:     results,
	}
	for _, result := range results {
		if result.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}

	return report
}
