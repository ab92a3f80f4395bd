// internal/services/reference_service.go
package services

import (
	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/storage"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// MaxReferenceImages 每个场景允许携带的场景参考图上限。
// 超过这个数量图像模型会以参考图过多为由拒绝生成。
const MaxReferenceImages = 2

// ReferencePlan 一个场景的参考图方案。
// 角色参考图不计入场景参考图的上限。
type ReferencePlan struct {
	CharAssetPaths []string
	ScenePaths     []string
	SceneRefs      []int
	AdvisoryRefs   []int
}

// TotalImages 方案中参考图总数
func (p *ReferencePlan) TotalImages() int {
	return len(p.CharAssetPaths) + len(p.ScenePaths)
}

// ReferenceService 根据连贯性分析结果为场景挑选参考图
type ReferenceService struct {
	assets *storage.AssetStore
}

// NewReferenceService 创建参考图预算服务
func NewReferenceService(assets *storage.AssetStore) *ReferenceService {
	return &ReferenceService{assets: assets}
}

// BuildPlan 为场景构建参考图方案。
// 顺序：主角出场时先装入全部角色参考图（不占上限），然后按
// 连贯性建议场景、再按最近两个前序场景补齐，场景参考图合计不超过上限。
// 不存在的文件直接跳过，永不引用当前或之后的场景。
func (s *ReferenceService) BuildPlan(slug string, sceneIndex int, info models.SceneConsistency) ReferencePlan {
	plan := ReferencePlan{}

	if info.IncludePrimaryCharacter {
		plan.CharAssetPaths = s.assets.CharAssetPaths()
	}

	used := make(map[int]bool)

	// 连贯性建议的角色参考场景优先
	for _, refIdx := range info.ReferenceScenes {
		if len(plan.ScenePaths) >= MaxReferenceImages {
			break
		}
		if refIdx < 1 || refIdx >= sceneIndex || used[refIdx] {
			continue
		}

		path := s.assets.SceneImagePath(slug, refIdx)
		if !s.assets.AssetExists(path) {
			utils.GetLogger().Debug("角色参考场景图不存在，跳过", map[string]interface{}{
				"scene":     sceneIndex,
				"reference": refIdx,
			})
			continue
		}

		plan.ScenePaths = append(plan.ScenePaths, path)
		plan.SceneRefs = append(plan.SceneRefs, refIdx)
		plan.AdvisoryRefs = append(plan.AdvisoryRefs, refIdx)
		used[refIdx] = true
	}

	// 最近两个前序场景维持整体视觉风格
	for _, recentIdx := range []int{sceneIndex - 1, sceneIndex - 2} {
		if len(plan.ScenePaths) >= MaxReferenceImages {
			break
		}
		if recentIdx < 1 || used[recentIdx] {
			continue
		}

		path := s.assets.SceneImagePath(slug, recentIdx)
		if !s.assets.AssetExists(path) {
			continue
		}

		plan.ScenePaths = append(plan.ScenePaths, path)
		plan.SceneRefs = append(plan.SceneRefs, recentIdx)
		used[recentIdx] = true
	}

	return plan
}
