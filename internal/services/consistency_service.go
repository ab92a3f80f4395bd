// internal/services/consistency_service.go
package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/Corphon/StoryReelMCP/internal/models"
	"github.com/Corphon/StoryReelMCP/internal/utils"
)

// ConsistencyService 在生成场景图之前分析故事板的角色连贯性。
// 分析结果只是建议，任何一步失败都降级为空结果，不阻断生成流程。
type ConsistencyService struct {
	LLM *LLMService
}

// NewConsistencyService 创建角色连贯性分析服务
func NewConsistencyService(llmService *LLMService) *ConsistencyService {
	return &ConsistencyService{
		LLM: llmService,
	}
}

// 第一遍分析的结构化输出
type characterUsageResult struct {
	Scenes []struct {
		SceneNumber int      `json:"scene_number"`
		Characters  []string `json:"characters"`
	} `json:"scenes"`
	CharacterTracking map[string][]int `json:"character_tracking"`
}

// 主角出场判断的结构化输出
type includeCharacterResult struct {
	IncludeMainCharacter bool   `json:"include_main_character"`
	Reasoning            string `json:"reasoning,omitempty"`
}

// 参考场景选择的结构化输出
type referenceScenesResult struct {
	ReferenceScenes []int  `json:"reference_scenes"`
	Reasoning       string `json:"reasoning,omitempty"`
}

// AnalyzeStoryboard 对整个故事板做两遍角色连贯性分析。
// 第一遍识别每个场景出现的角色，第二遍为每个场景挑选应参考的前序场景。
func (s *ConsistencyService) AnalyzeStoryboard(ctx context.Context, scenes []models.Scene) models.ConsistencyGraph {
	logger := utils.GetLogger()

	characterMentions := s.identifyCharacters(ctx, scenes)

	graph := make(models.ConsistencyGraph, len(scenes))

	for i, scene := range scenes {
		sceneNumber := i + 1

		includeMainChar := s.shouldIncludeCharacter(ctx, scene.SceneDescription)

		referenceScenes := s.findReferenceScenes(ctx, sceneNumber, scene.SceneDescription, scenes, characterMentions)

		graph[sceneNumber] = models.SceneConsistency{
			IncludePrimaryCharacter: includeMainChar,
			ReferenceScenes:         referenceScenes,
			CharactersPresent:       characterMentions[sceneNumber],
		}
	}

	logger.Info("角色连贯性分析完成", map[string]interface{}{
		"scene_count": len(scenes),
	})

	return graph
}

// identifyCharacters 识别所有场景中提到的角色，返回场景编号到角色列表的映射
func (s *ConsistencyService) identifyCharacters(ctx context.Context, scenes []models.Scene) map[int][]string {
	var descriptions []string
	for i, scene := range scenes {
		descriptions = append(descriptions, fmt.Sprintf("Scene %d: %s", i+1, scene.SceneDescription))
	}

	prompt := fmt.Sprintf(`Analyze these scene descriptions and identify all characters mentioned.
For each scene, list the characters that appear or are referenced.
Pay special attention to:
- Direct mentions (e.g., "the speaker", "a woman", "the scientist")
- Indirect references (e.g., "cut back to them", "she returns", "he continues")
- Pronouns that refer to previously introduced characters

Respond in JSON format:
{
  "scenes": [
    {"scene_number": 1, "characters": ["the speaker", "audience members"]},
    {"scene_number": 2, "characters": []}
  ],
  "character_tracking": {
    "the speaker": [1, 4, 7],
    "the scientist": [2, 3, 5]
  }
}

Scenes:
%s`, strings.Join(descriptions, "\n\n"))

	var result characterUsageResult
	if err := s.LLM.CreateStructuredCompletion(ctx, prompt, "", &result); err != nil {
		utils.GetLogger().Warn("角色识别失败，降级为空结果", map[string]interface{}{"err": err.Error()})
		return map[int][]string{}
	}

	characterMentions := make(map[int][]string, len(result.Scenes))
	for _, sceneInfo := range result.Scenes {
		if sceneInfo.SceneNumber < 1 || sceneInfo.SceneNumber > len(scenes) {
			continue
		}
		characterMentions[sceneInfo.SceneNumber] = sceneInfo.Characters
	}

	return characterMentions
}

// shouldIncludeCharacter 判断主角是否应该在该场景中出镜
func (s *ConsistencyService) shouldIncludeCharacter(ctx context.Context, sceneDescription string) bool {
	prompt := fmt.Sprintf(`Based on this scene description, should the main character appear visually in the scene?

Respond in JSON format:
{"include_main_character": true}

Scene: %s`, sceneDescription)

	var result includeCharacterResult
	if err := s.LLM.CreateStructuredCompletion(ctx, prompt, "", &result); err != nil {
		utils.GetLogger().Warn("主角出场判断失败，默认不出场", map[string]interface{}{"err": err.Error()})
		return false
	}

	return result.IncludeMainCharacter
}

// findReferenceScenes 为当前场景挑选应作为视觉参考的前序场景。
// 返回的编号严格落在[1, sceneNumber-1]内，首个场景没有参考。
func (s *ConsistencyService) findReferenceScenes(ctx context.Context, sceneNumber int, description string, scenes []models.Scene, characterMentions map[int][]string) []int {
	if sceneNumber <= 1 {
		return nil
	}

	var previousContext []string
	for i := 0; i < sceneNumber-1; i++ {
		previousContext = append(previousContext, fmt.Sprintf(
			"Scene %d: %s | Characters: %v",
			i+1, scenes[i].SceneDescription, characterMentions[i+1]))
	}

	prompt := fmt.Sprintf(`Given the current scene and previous scenes, identify which PREVIOUS scenes should be used as visual reference to maintain character consistency.

Current Scene (Scene %d):
Description: %s
Characters present: %v

Previous Scenes:
%s

Analyze if the current scene references or shows characters that appeared in previous scenes.
Look for:
1. Explicit callbacks ("cut back to the speaker", "return to the scientist")
2. Same character continuing their action
3. Characters referenced by pronouns

Respond in JSON format with the scene numbers (1-indexed) that should be used as reference:
{
  "reference_scenes": [1, 4],
  "reasoning": "Scene 4 shows 'the speaker' who first appeared in scene 1"
}

If no character consistency is needed, return an empty list.`,
		sceneNumber, description, characterMentions[sceneNumber], strings.Join(previousContext, "\n"))

	var result referenceScenesResult
	if err := s.LLM.CreateStructuredCompletion(ctx, prompt, "", &result); err != nil {
		utils.GetLogger().Warn("参考场景分析失败，降级为空结果", map[string]interface{}{
			"scene": sceneNumber,
			"err":   err.Error(),
		})
		return nil
	}

	// 丢弃越界编号，只允许引用更早的场景
	var references []int
	for _, num := range result.ReferenceScenes {
		if num >= 1 && num < sceneNumber {
			references = append(references, num)
		}
	}

	if len(references) > 0 {
		utils.GetLogger().Debug("选定参考场景", map[string]interface{}{
			"scene":      sceneNumber,
			"references": references,
			"reasoning":  result.Reasoning,
		})
	}

	return references
}
