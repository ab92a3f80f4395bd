// internal/models/consistency.go
package models

// SceneConsistency 单个分镜的角色一致性信息
type SceneConsistency struct {
	IncludePrimaryCharacter bool     `json:"include_primary_character"`
	ReferenceScenes         []int    `json:"reference_scenes"` // 1-based，严格小于本分镜索引
	CharactersPresent       []string `json:"characters_present"`
}

// ConsistencyGraph 整个故事板的角色出场图，按分镜索引(1-based)查询。
// 该图由LLM分析得出，仅作参考；缺失条目等同于"无角色、无引用"。
type ConsistencyGraph map[int]SceneConsistency

// SceneInfo 返回指定分镜的一致性信息，缺失时返回零值而不是失败
func (g ConsistencyGraph) SceneInfo(index int) SceneConsistency {
	if g == nil {
		return SceneConsistency{}
	}
	return g[index]
}
