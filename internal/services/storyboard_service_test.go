// internal/services/storyboard_service_test.go
package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
)

func newTestStoryboardService(t *testing.T, llm *LLMService) (*StoryboardService, *storage.AssetStore) {
	t.Helper()
	store := newTestAssetStore(t)
	if llm == nil {
		llm = NewEmptyLLMService()
	}
	return NewStoryboardService(llm, nil, store, "", 0), store
}

func TestSaveStoryboardRejectsEmpty(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	err := svc.SaveStoryboard("acme.com", nil)
	if !errors.Is(err, ErrInvalidStoryboard) {
		t.Fatalf("空场景列表应返回ErrInvalidStoryboard, 实际: %v", err)
	}
}

func TestSaveStoryboardCreatesVisibleDraft(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	scenes := []models.Scene{{SceneDescription: "opening shot"}}
	if err := svc.SaveStoryboard("acme.com", scenes); err != nil {
		t.Fatalf("保存故事板失败: %v", err)
	}

	drafts, err := svc.ListDrafts()
	if err != nil {
		t.Fatalf("读取草稿列表失败: %v", err)
	}
	if len(drafts) != 1 || drafts[0].Slug != "acme.com" {
		t.Fatalf("仅保存故事板的草稿应出现在列表中: %+v", drafts)
	}
	if !drafts[0].HasStoryboard {
		t.Error("草稿概览应识别到故事板")
	}

	if _, err := svc.GetDraft("acme.com"); err != nil {
		t.Errorf("仅保存故事板的草稿应可读取: %v", err)
	}
}

func TestLoadStoryboardMissing(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	_, err := svc.LoadStoryboard("nobody-home")
	if !errors.Is(err, ErrStoryboardNotFound) {
		t.Fatalf("缺失故事板应返回ErrStoryboardNotFound, 实际: %v", err)
	}
}

func TestGenerateStoryboardSavesAndMirrorsDefault(t *testing.T) {
	server := newFakeLLMServer(t, func(prompt string) string {
		if !strings.Contains(prompt, "storyboard writer") {
			t.Errorf("意外的提示词: %s", prompt)
		}
		return `[
			{"scene_description": "A chef plating a dish", "voice_over_text": "Taste the craft."},
			{"scene_description": "The chef smiles at the camera", "voice_over_text": "Every single day."}
		]`
	})
	defer server.Close()

	svc, store := newTestStoryboardService(t, newTestLLMService(t, server.URL))

	scenes, err := svc.GenerateStoryboard(context.Background(), "a chef-driven delivery service", "acme.com")
	if err != nil {
		t.Fatalf("生成故事板失败: %v", err)
	}
	if len(scenes) != 2 {
		t.Fatalf("期望2个场景, 实际%d", len(scenes))
	}
	if scenes[0].SceneDescription != "A chef plating a dish" {
		t.Errorf("场景描述不符: %s", scenes[0].SceneDescription)
	}

	if !store.HasStoryboard("acme.com") {
		t.Error("slug目录下应存在故事板")
	}
	if !store.HasStoryboard(storage.DefaultSlug) {
		t.Error("default目录下应存在镜像副本")
	}
}

func TestGenerateStoryboardEmptyIdea(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	if _, err := svc.GenerateStoryboard(context.Background(), "   ", "acme.com"); err == nil {
		t.Fatal("空创意应报错")
	}
}

func TestExtractJSONBlob(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "混杂日志中取最后一个完整对象",
			raw:  "Navigating...\n{\"progress\": 1}\ndone\n{\"title\": \"Acme\", \"textContent\": \"hello\"}",
			want: `{"title": "Acme", "textContent": "hello"}`,
		},
		{
			name: "纯JSON对象",
			raw:  `{"a": 1}`,
			want: `{"a": 1}`,
		},
		{
			name: "嵌套对象整体返回",
			raw:  `prefix {"outer": {"inner": 2}} suffix`,
			want: `{"outer": {"inner": 2}}`,
		},
		{
			name:    "没有JSON对象",
			raw:     "plain text output",
			wantErr: true,
		},
		{
			name:    "只有残缺对象",
			raw:     `{"broken": `,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSONBlob(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("期望报错, 实际得到: %s", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("提取失败: %v", err)
			}
			if got != tt.want {
				t.Errorf("提取结果不符: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTruncateText(t *testing.T) {
	short := "  keep me intact  "
	if got := truncateText(short, 100); got != "keep me intact" {
		t.Errorf("短文本只应去除空白: %q", got)
	}

	long := strings.TrimSpace(strings.Repeat("word ", 80))
	got := truncateText(long, 250)
	if !strings.HasSuffix(got, " ...") {
		t.Errorf("截断文本应以省略号结尾: %q", got)
	}
	if strings.Contains(strings.TrimSuffix(got, " ..."), "wor ") {
		t.Errorf("截断不应切断单词: %q", got)
	}
	if len(got) > 250+4 {
		t.Errorf("截断后长度超限: %d", len(got))
	}
}

func TestSummarizeDraftCountsAssets(t *testing.T) {
	svc, store := newTestStoryboardService(t, nil)

	if err := store.SaveStoryboard("demo", []models.Scene{{SceneDescription: "opening shot"}}); err != nil {
		t.Fatalf("写入故事板失败: %v", err)
	}
	writeSceneImage(t, store, "demo", 1)
	writeSceneImage(t, store, "demo", 2)
	writeSceneVideo(t, store, "demo", 1)
	writeVoiceover(t, store, "demo", 1)

	summary := svc.SummarizeDraft("demo")
	if !summary.HasStoryboard {
		t.Error("应识别到故事板")
	}
	if summary.Scenes != 2 || summary.Videos != 1 || summary.Voiceovers != 1 {
		t.Errorf("素材计数不符: %+v", summary)
	}
	if summary.FinalVideo != "" {
		t.Errorf("未合成时不应有成片路径: %s", summary.FinalVideo)
	}

	if err := store.WriteAsset(store.FinalVideoPath("demo"), []byte("mp4")); err != nil {
		t.Fatalf("写入成片失败: %v", err)
	}
	if summary = svc.SummarizeDraft("demo"); summary.FinalVideo == "" {
		t.Error("合成后应返回成片路径")
	}
}

func TestGetDraftMissing(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	if _, err := svc.GetDraft("no-such-draft"); err == nil {
		t.Fatal("缺失草稿应报错")
	}
}

func TestGetDraftDetail(t *testing.T) {
	svc, store := newTestStoryboardService(t, nil)

	scenes := []models.Scene{
		{SceneDescription: "a dog runs", VoiceOverText: "Run free."},
		{SceneDescription: "the dog rests"},
	}
	if err := store.SaveStoryboard("demo", scenes); err != nil {
		t.Fatalf("写入故事板失败: %v", err)
	}
	writeSceneImage(t, store, "demo", 1)
	writeSceneVideo(t, store, "demo", 1)
	writeVoiceover(t, store, "demo", 1)

	detail, err := svc.GetDraft("demo")
	if err != nil {
		t.Fatalf("读取草稿失败: %v", err)
	}
	if len(detail.Storyboard) != 2 {
		t.Errorf("故事板场景数不符: %d", len(detail.Storyboard))
	}
	if len(detail.SceneImages) != 1 || len(detail.VideoFiles) != 1 || len(detail.VoiceoverFiles) != 1 {
		t.Errorf("素材列表不符: %+v", detail)
	}
}

func TestEnsureDraft(t *testing.T) {
	svc, _ := newTestStoryboardService(t, nil)

	slug, err := svc.EnsureDraft("My Draft")
	if err != nil {
		t.Fatalf("创建草稿失败: %v", err)
	}
	if slug != storage.SafeSlug("My Draft") {
		t.Errorf("slug规范化不符: %s", slug)
	}

	if _, err := svc.GetDraft(slug); err != nil {
		t.Errorf("刚创建的草稿应可读取: %v", err)
	}
}
