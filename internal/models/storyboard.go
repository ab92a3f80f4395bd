// internal/models/storyboard.go
package models

import (
	"strings"
)

// Scene 表示故事板中的一个分镜
type Scene struct {
	SceneDescription string `json:"scene_description"`
	VoiceOverText    string `json:"voice_over_text,omitempty"`
}

// Storyboard 一个项目的有序分镜序列，顺序即叙事与播放顺序
type Storyboard struct {
	Slug   string  `json:"slug"`
	Scenes []Scene `json:"scenes"`
}

// HasDescription 判断分镜是否有效（缺少描述的分镜会被下游跳过）
func (s Scene) HasDescription() bool {
	return strings.TrimSpace(s.SceneDescription) != ""
}

// SceneCount 返回分镜数量
func (b *Storyboard) SceneCount() int {
	if b == nil {
		return 0
	}
	return len(b.Scenes)
}

// SceneAt 按1-based索引取分镜
func (b *Storyboard) SceneAt(index int) (Scene, bool) {
	if b == nil || index < 1 || index > len(b.Scenes) {
		return Scene{}, false
	}
	return b.Scenes[index-1], true
}
