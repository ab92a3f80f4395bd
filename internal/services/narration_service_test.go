// internal/services/narration_service_test.go
package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/Corphon/StoryReelMCP/internal/models"
)

// fakeSynthesizer 返回固定音频字节
type fakeSynthesizer struct {
	mu          sync.Mutex
	calls       int
	err         error
	hadDeadline bool
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	_, f.hadDeadline = ctx.Deadline()
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3:" + text), nil
}

func (f *fakeSynthesizer) DefaultVoiceID() string {
	return "voice-default"
}

// fakeRunner 以路径为键返回预设时长，记录裁剪调用
type fakeRunner struct {
	mu        sync.Mutex
	durations map[string]float64
	trimmed   map[string]float64
	probeErr  error

	replaceCalls [][3]string
	copyCalls    [][2]string
	concatCalls  [][]string
	concatErr    error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		durations: make(map[string]float64),
		trimmed:   make(map[string]float64),
	}
}

func (f *fakeRunner) ProbeDuration(ctx context.Context, path string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.probeErr != nil {
		return 0, f.probeErr
	}
	if d, ok := f.durations[path]; ok {
		return d, nil
	}
	return 0, errors.New("未知媒体文件: " + path)
}

func (f *fakeRunner) TrimAudio(ctx context.Context, path string, maxDuration float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.trimmed[path] = maxDuration
	f.durations[path] = maxDuration
	return nil
}

func (f *fakeRunner) ReplaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replaceCalls = append(f.replaceCalls, [3]string{videoPath, audioPath, outputPath})
	return nil
}

func (f *fakeRunner) CopyVideo(ctx context.Context, videoPath, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copyCalls = append(f.copyCalls, [2]string{videoPath, outputPath})
	return nil
}

func (f *fakeRunner) Concat(ctx context.Context, videoPaths []string, outputPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.concatCalls = append(f.concatCalls, append([]string{}, videoPaths...))
	if f.concatErr != nil {
		return f.concatErr
	}
	return os.WriteFile(outputPath, []byte("final"), 0644)
}

func TestGenerateSceneNarrationClipsToVideo(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	svc := NewNarrationService(&fakeSynthesizer{}, runner, store)

	// 场景视频5秒, 配音8秒, 应被裁剪到5秒
	videoPath := store.SceneVideoPath("demo", 1)
	if err := store.WriteAsset(videoPath, []byte("mp4")); err != nil {
		t.Fatalf("写入场景视频失败: %v", err)
	}
	runner.durations[videoPath] = 5.0
	runner.durations[store.VoiceoverPath("demo", 1)] = 8.0

	result := svc.GenerateScene(context.Background(), "demo", 1, "欢迎了解我们的产品", "")

	if !result.Success {
		t.Fatalf("配音应成功: %+v", result)
	}
	if !result.ClippedToVideo {
		t.Error("超长配音应被裁剪")
	}
	if result.MaxDuration != 5.0 {
		t.Errorf("裁剪上限应为视频时长: %f", result.MaxDuration)
	}
	if result.DurationSeconds != 5.0 {
		t.Errorf("裁剪后时长应为5秒: %f", result.DurationSeconds)
	}
	if result.VoiceID != "voice-default" {
		t.Errorf("未指定voice时应使用默认音色: %s", result.VoiceID)
	}
	if len(runner.trimmed) != 1 {
		t.Errorf("应恰好裁剪一次: %v", runner.trimmed)
	}
}

func TestGenerateSceneNarrationShorterThanVideo(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	svc := NewNarrationService(&fakeSynthesizer{}, runner, store)

	videoPath := store.SceneVideoPath("demo", 1)
	if err := store.WriteAsset(videoPath, []byte("mp4")); err != nil {
		t.Fatalf("写入场景视频失败: %v", err)
	}
	runner.durations[videoPath] = 5.0
	runner.durations[store.VoiceoverPath("demo", 1)] = 3.0

	result := svc.GenerateScene(context.Background(), "demo", 1, "简短介绍", "custom-voice")

	if !result.Success {
		t.Fatalf("配音应成功: %+v", result)
	}
	if result.ClippedToVideo {
		t.Error("不超长的配音不应被裁剪")
	}
	if result.DurationSeconds != 3.0 {
		t.Errorf("时长应为3秒: %f", result.DurationSeconds)
	}
	if result.VoiceID != "custom-voice" {
		t.Errorf("应沿用指定音色: %s", result.VoiceID)
	}
}

func TestGenerateSceneNarrationEnforcesTimeout(t *testing.T) {
	store := newTestAssetStore(t)
	synth := &fakeSynthesizer{}
	svc := NewNarrationService(synth, newFakeRunner(), store)

	result := svc.GenerateScene(context.Background(), "demo", 1, "hello", "")
	if !result.Success {
		t.Fatalf("合成失败: %+v", result)
	}
	if !synth.hadDeadline {
		t.Error("语音合成调用应带超时deadline")
	}
}

func TestGenerateSceneNarrationEmptyText(t *testing.T) {
	store := newTestAssetStore(t)
	svc := NewNarrationService(&fakeSynthesizer{}, newFakeRunner(), store)

	result := svc.GenerateScene(context.Background(), "demo", 1, "", "")
	if result.Success || result.Error == "" {
		t.Errorf("空文本应失败: %+v", result)
	}
}

func TestGenerateSceneNarrationProbeFailureStillSucceeds(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	runner.probeErr = errors.New("ffprobe不可用")
	svc := NewNarrationService(&fakeSynthesizer{}, runner, store)

	result := svc.GenerateScene(context.Background(), "demo", 1, "介绍文本", "")
	if !result.Success {
		t.Errorf("探测失败不应使配音失败: %+v", result)
	}
	if result.AudioPath == "" {
		t.Error("音频应已落盘")
	}
}

func TestGenerateAllNarrationSkipsTextlessScenes(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	synth := &fakeSynthesizer{}
	svc := NewNarrationService(synth, runner, store)

	for i := 1; i <= 3; i++ {
		runner.durations[store.VoiceoverPath("demo", i)] = 2.0
	}

	scenes := []models.Scene{
		{SceneDescription: "一", VoiceOverText: "旁白一"},
		{SceneDescription: "二"}, // 无配音文本
		{SceneDescription: "三", VoiceOverText: "旁白三"},
	}

	report := svc.GenerateAll(context.Background(), "demo", "", scenes)

	if report.TotalScenes != 2 {
		t.Errorf("无文本场景不应计入结果: %d", report.TotalScenes)
	}
	if report.Successful != 2 || report.Failed != 0 {
		t.Errorf("统计不符: %+v", report)
	}
	if synth.calls != 2 {
		t.Errorf("应只合成2次: %d", synth.calls)
	}
	if len(report.Results) == 2 && report.Results[0].Scene > report.Results[1].Scene {
		t.Errorf("结果应按场景编号排序: %+v", report.Results)
	}
}
