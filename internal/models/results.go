// internal/models/results.go
package models

// 批处理端点始终返回逐分镜的结果明细，单个分镜失败不会使整批失败。

const (
	SceneStatusSuccess  = "success"
	SceneStatusExisting = "existing"
	SceneStatusSkipped  = "skipped"
	SceneStatusError    = "error"
)

// SceneImageResult 单个分镜图像生成的结果
type SceneImageResult struct {
	Scene             int    `json:"scene"`
	Status            string `json:"status"`
	Strategy          string `json:"strategy,omitempty"` // 最终成功的级联策略名
	IncludedCharacter bool   `json:"included_character"`
	ReferenceScenes   []int  `json:"reference_scenes,omitempty"`
	OutputPath        string `json:"output_path,omitempty"`
	Message           string `json:"message,omitempty"`
}

// SceneVideoResult 单个分镜视频生成的结果
type SceneVideoResult struct {
	Scene      int    `json:"scene"`
	Status     string `json:"status"`
	OutputPath string `json:"output_path,omitempty"`
	Message    string `json:"message,omitempty"`
}

// NarrationResult 单个分镜配音生成的结果
type NarrationResult struct {
	Scene           int     `json:"scene"`
	Success         bool    `json:"success"`
	AudioPath       string  `json:"audio_path,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	ClippedToVideo  bool    `json:"clipped_to_video"`
	MaxDuration     float64 `json:"max_duration_seconds,omitempty"`
	VoiceID         string  `json:"voice_id,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// BatchImageReport 整批图像生成的汇总
type BatchImageReport struct {
	TaskID      string             `json:"task_id,omitempty"`
	TotalScenes int                `json:"total_scenes"`
	Successful  int                `json:"successful"`
	Failed      int                `json:"failed"`
	Skipped     int                `json:"skipped"`
	Results     []SceneImageResult `json:"results"`
}

// BatchVideoReport 整批视频生成的汇总
type BatchVideoReport struct {
	TaskID      string             `json:"task_id,omitempty"`
	TotalScenes int                `json:"total_scenes"`
	Successful  int                `json:"successful"`
	Existing    int                `json:"existing"`
	Failed      int                `json:"failed"`
	Results     []SceneVideoResult `json:"results"`
}

// BatchNarrationReport 整批配音生成的汇总
type BatchNarrationReport struct {
	TaskID      string            `json:"task_id,omitempty"`
	TotalScenes int               `json:"total_scenes"`
	Successful  int               `json:"successful"`
	Failed      int               `json:"failed"`
	Results     []NarrationResult `json:"results"`
}

// AssembleResult 最终合成的结果
type AssembleResult struct {
	FinalVideo string `json:"final_video"`
	VideoDir   string `json:"video_dir"`
	AudioDir   string `json:"audio_dir"`
	SceneCount int    `json:"scene_count"`
}

// AdIdea 广告创意（由抓取的网页上下文生成）
type AdIdea struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ImagePrompt string `json:"image_prompt,omitempty"`
	Image       string `json:"image,omitempty"` // base64 PNG
}

// DraftSummary 一个slug下素材的概览
type DraftSummary struct {
	Slug          string `json:"slug"`
	HasStoryboard bool   `json:"has_storyboard"`
	Scenes        int    `json:"scenes"`
	Voiceovers    int    `json:"voiceovers"`
	Videos        int    `json:"videos"`
	FinalVideo    string `json:"final_video,omitempty"`
}

// DraftDetail 草稿详情，含各类素材的文件列表
type DraftDetail struct {
	DraftSummary
	Storyboard     []Scene  `json:"storyboard,omitempty"`
	SceneImages    []string `json:"scene_images"`
	VoiceoverFiles []string `json:"voiceover_files"`
	VideoFiles     []string `json:"video_files"`
}
