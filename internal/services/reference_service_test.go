// internal/services/reference_service_test.go
package services

import (
	"path/filepath"
	"testing"

	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
)

func newTestAssetStore(t *testing.T) *storage.AssetStore {
	t.Helper()

	root := t.TempDir()
	store, err := storage.NewAssetStore(filepath.Join(root, "images"), filepath.Join(root, "scenes"))
	if err != nil {
		t.Fatalf("创建素材存储失败: %v", err)
	}
	return store
}

func writeSceneImage(t *testing.T, store *storage.AssetStore, slug string, index int) {
	t.Helper()
	if err := store.WriteAsset(store.SceneImagePath(slug, index), []byte("png")); err != nil {
		t.Fatalf("写入场景图失败: %v", err)
	}
}

func TestBuildPlanCapsSceneReferences(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	for i := 1; i <= 4; i++ {
		writeSceneImage(t, store, "demo", i)
	}

	plan := refs.BuildPlan("demo", 5, models.SceneConsistency{
		ReferenceScenes: []int{1, 2, 3, 4},
	})

	if len(plan.ScenePaths) != MaxReferenceImages {
		t.Errorf("场景参考图应被限制在%d张, 实际 %d", MaxReferenceImages, len(plan.ScenePaths))
	}
	if plan.SceneRefs[0] != 1 || plan.SceneRefs[1] != 2 {
		t.Errorf("连贯性建议场景应优先入选: %v", plan.SceneRefs)
	}
}

func TestBuildPlanCharAssetsExemptFromCap(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	for i := 0; i < 3; i++ {
		if _, err := store.SaveCharAsset([]byte("char"), ".png"); err != nil {
			t.Fatalf("保存角色参考图失败: %v", err)
		}
	}
	writeSceneImage(t, store, "demo", 1)
	writeSceneImage(t, store, "demo", 2)

	plan := refs.BuildPlan("demo", 3, models.SceneConsistency{
		IncludePrimaryCharacter: true,
		ReferenceScenes:         []int{1, 2},
	})

	if len(plan.CharAssetPaths) != 3 {
		t.Errorf("角色参考图应全部入选, 实际 %d", len(plan.CharAssetPaths))
	}
	if len(plan.ScenePaths) != MaxReferenceImages {
		t.Errorf("场景参考图仍受上限约束, 实际 %d", len(plan.ScenePaths))
	}
	if plan.TotalImages() != 3+MaxReferenceImages {
		t.Errorf("总图数应为角色图加场景图: %d", plan.TotalImages())
	}
}

func TestBuildPlanNeverReferencesForward(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	writeSceneImage(t, store, "demo", 1)
	writeSceneImage(t, store, "demo", 3)
	writeSceneImage(t, store, "demo", 4)

	plan := refs.BuildPlan("demo", 3, models.SceneConsistency{
		ReferenceScenes: []int{3, 4, 1},
	})

	for _, ref := range plan.SceneRefs {
		if ref >= 3 {
			t.Errorf("不允许引用当前或之后的场景: %v", plan.SceneRefs)
		}
	}
}

func TestBuildPlanSkipsMissingFiles(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	// 只有场景1的图真实存在
	writeSceneImage(t, store, "demo", 1)

	plan := refs.BuildPlan("demo", 4, models.SceneConsistency{
		ReferenceScenes: []int{2, 1},
	})

	if len(plan.ScenePaths) != 1 || plan.SceneRefs[0] != 1 {
		t.Errorf("应只保留真实存在的参考图: %v", plan.SceneRefs)
	}
}

func TestBuildPlanFillsWithRecentScenes(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	for i := 1; i <= 4; i++ {
		writeSceneImage(t, store, "demo", i)
	}

	// 无连贯性建议时用最近两个前序场景补齐
	plan := refs.BuildPlan("demo", 5, models.SceneConsistency{})

	want := []int{4, 3}
	if len(plan.SceneRefs) != 2 || plan.SceneRefs[0] != want[0] || plan.SceneRefs[1] != want[1] {
		t.Errorf("应按最近优先补齐场景参考: %v", plan.SceneRefs)
	}
	if len(plan.AdvisoryRefs) != 0 {
		t.Errorf("无建议时AdvisoryRefs应为空: %v", plan.AdvisoryRefs)
	}
}

func TestBuildPlanFirstSceneTextOnly(t *testing.T) {
	store := newTestAssetStore(t)
	refs := NewReferenceService(store)

	plan := refs.BuildPlan("demo", 1, models.SceneConsistency{})
	if plan.TotalImages() != 0 {
		t.Errorf("首个场景不应有任何参考图: %d", plan.TotalImages())
	}
}
