// internal/services/assembly_service_test.go
package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Corphon/StoryReelMCP/internal/storage"
)

func writeSceneVideo(t *testing.T, store *storage.AssetStore, slug string, index int) {
	t.Helper()
	if err := store.WriteAsset(store.SceneVideoPath(slug, index), []byte("mp4")); err != nil {
		t.Fatalf("写入场景视频失败: %v", err)
	}
}

func writeVoiceover(t *testing.T, store *storage.AssetStore, slug string, index int) {
	t.Helper()
	if err := store.WriteAsset(store.VoiceoverPath(slug, index), []byte("mp3")); err != nil {
		t.Fatalf("写入配音失败: %v", err)
	}
}

func TestAssembleFinalVideoOrderAndAudio(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	svc := NewAssemblyService(runner, store)

	// 场景10必须排在2之后, 场景2没有配音保留原音轨
	for _, idx := range []int{10, 1, 2} {
		writeSceneVideo(t, store, "demo", idx)
	}
	writeVoiceover(t, store, "demo", 1)
	writeVoiceover(t, store, "demo", 10)

	result, err := svc.AssembleFinalVideo(context.Background(), "demo")
	if err != nil {
		t.Fatalf("合成失败: %v", err)
	}

	if result.SceneCount != 3 {
		t.Errorf("应拼接3段: %d", result.SceneCount)
	}

	if len(runner.concatCalls) != 1 {
		t.Fatalf("应恰好拼接一次: %d", len(runner.concatCalls))
	}
	segments := runner.concatCalls[0]
	if len(segments) != 3 {
		t.Fatalf("拼接段数不符: %v", segments)
	}
	wantOrder := []string{"temp_scene_1.mp4", "temp_scene_2.mp4", "temp_scene_10.mp4"}
	for i, segment := range segments {
		if filepath.Base(segment) != wantOrder[i] {
			t.Errorf("第%d段应为%s, 得到%s", i, wantOrder[i], filepath.Base(segment))
		}
	}

	// 有配音的场景走音轨替换, 没有的走转存
	if len(runner.replaceCalls) != 2 {
		t.Errorf("应替换2次音轨: %d", len(runner.replaceCalls))
	}
	if len(runner.copyCalls) != 1 {
		t.Errorf("应转存1次: %d", len(runner.copyCalls))
	}
	if !strings.HasSuffix(runner.copyCalls[0][0], "scene2.mp4") {
		t.Errorf("无配音的应是场景2: %v", runner.copyCalls[0])
	}

	// 成片已生成
	if _, err := os.Stat(result.FinalVideo); err != nil {
		t.Errorf("成片应存在: %v", err)
	}
}

func TestAssembleCleansTempFiles(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	svc := NewAssemblyService(runner, store)

	writeSceneVideo(t, store, "demo", 1)

	result, err := svc.AssembleFinalVideo(context.Background(), "demo")
	if err != nil {
		t.Fatalf("合成失败: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(result.FinalVideo))
	if err != nil {
		t.Fatalf("读取成片目录失败: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "temp_scene_") {
			t.Errorf("中间产物应被清理: %s", entry.Name())
		}
	}
}

func TestAssembleCleansTempFilesOnFailure(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	runner.concatErr = errors.New("拼接失败")
	svc := NewAssemblyService(runner, store)

	writeSceneVideo(t, store, "demo", 1)

	if _, err := svc.AssembleFinalVideo(context.Background(), "demo"); err == nil {
		t.Fatal("拼接失败应返回错误")
	}

	entries, err := os.ReadDir(store.SlugDir("demo"))
	if err != nil {
		t.Fatalf("读取目录失败: %v", err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "temp_scene_") {
			t.Errorf("失败时中间产物也应被清理: %s", entry.Name())
		}
	}
}

func TestAssembleFallsBackToDefaultSlug(t *testing.T) {
	store := newTestAssetStore(t)
	runner := newFakeRunner()
	svc := NewAssemblyService(runner, store)

	// 请求slug没有片段, default有
	writeSceneVideo(t, store, storage.DefaultSlug, 1)
	writeVoiceover(t, store, storage.DefaultSlug, 1)

	result, err := svc.AssembleFinalVideo(context.Background(), "empty-slug")
	if err != nil {
		t.Fatalf("应退回default素材: %v", err)
	}

	// 成片仍写在请求的slug下
	if !strings.Contains(result.FinalVideo, "empty-slug") {
		t.Errorf("成片应位于请求slug目录: %s", result.FinalVideo)
	}
	if !strings.Contains(result.VideoDir, storage.DefaultSlug) {
		t.Errorf("素材目录应指向default: %s", result.VideoDir)
	}
	if len(runner.replaceCalls) != 1 {
		t.Errorf("default的配音也应参与替换: %d", len(runner.replaceCalls))
	}
}

func TestAssembleNoVideosIsNotFound(t *testing.T) {
	store := newTestAssetStore(t)
	svc := NewAssemblyService(newFakeRunner(), store)

	_, err := svc.AssembleFinalVideo(context.Background(), "nothing-here")
	if !errors.Is(err, ErrNoSceneVideos) {
		t.Errorf("应返回ErrNoSceneVideos: %v", err)
	}
}
