// internal/storage/asset_store.go
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// 路径常量
const (
	DefaultSlug        = "default"
	storyboardFileName = "generated_storyboard.json"
)

var (
	schemeRE    = regexp.MustCompile(`^https?://`)
	unsafeRE    = regexp.MustCompile(`[^a-z0-9._-]`)
	charAssetRE = regexp.MustCompile(`^char_asset(\d+)\.(?i:png|jpg|jpeg|webp)$`)
	sceneMp4RE  = regexp.MustCompile(`^scene(\d+)\.mp4$`)
)

// WebsiteToSlug 把网站URL归一化为目录安全的slug。
// 空输入与清洗后为空的输入都归到default。
func WebsiteToSlug(website string) string {
	if website == "" {
		return DefaultSlug
	}

	cleaned := strings.ToLower(strings.TrimSpace(website))
	cleaned = schemeRE.ReplaceAllString(cleaned, "")
	cleaned = strings.ReplaceAll(cleaned, "/", "-")
	cleaned = unsafeRE.ReplaceAllString(cleaned, "-")
	cleaned = strings.Trim(cleaned, "-._")

	if cleaned == "" {
		return DefaultSlug
	}
	return cleaned
}

// SafeSlug 清理外部传入的slug，防止目录穿越
func SafeSlug(slug string) string {
	return strings.Trim(strings.TrimSpace(slug), "/\\")
}

// SceneVideo 一段已落盘的场景视频
type SceneVideo struct {
	Index int
	Path  string
}

// AssetStore 管理故事板、角色参考图与生成素材的落盘布局。
// imagesDir存放角色参考图与故事板JSON，scenesDir按slug存放生成产物。
type AssetStore struct {
	imagesDir string
	scenesDir string

	// 文件级别锁 path -> *sync.RWMutex
	fileLocks sync.Map

	// 角色参考图编号分配需要串行
	assetMutex sync.Mutex
}

// NewAssetStore 创建素材存储
func NewAssetStore(imagesDir, scenesDir string) (*AssetStore, error) {
	for _, dir := range []string{imagesDir, scenesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建存储目录失败: %w", err)
		}
	}

	return &AssetStore{
		imagesDir: imagesDir,
		scenesDir: scenesDir,
	}, nil
}

// 获取文件锁
func (s *AssetStore) getFileLock(fullPath string) *sync.RWMutex {
	value, _ := s.fileLocks.LoadOrStore(fullPath, &sync.RWMutex{})
	return value.(*sync.RWMutex)
}

// ---- 规范路径 ----

// SceneImagePath 场景图路径
func (s *AssetStore) SceneImagePath(slug string, sceneIndex int) string {
	return filepath.Join(s.scenesDir, slug, "images", fmt.Sprintf("scene%d.png", sceneIndex))
}

// SceneVideoPath 场景视频路径
func (s *AssetStore) SceneVideoPath(slug string, sceneIndex int) string {
	return filepath.Join(s.scenesDir, slug, "video", fmt.Sprintf("scene%d.mp4", sceneIndex))
}

// VoiceoverPath 场景配音路径
func (s *AssetStore) VoiceoverPath(slug string, sceneIndex int) string {
	return filepath.Join(s.scenesDir, slug, "audio", fmt.Sprintf("scene%d_voiceover.mp3", sceneIndex))
}

// FinalVideoPath 成片路径
func (s *AssetStore) FinalVideoPath(slug string) string {
	return filepath.Join(s.scenesDir, slug, "final_video.mp4")
}

// StoryboardPath slug专属的故事板JSON路径
func (s *AssetStore) StoryboardPath(slug string) string {
	return filepath.Join(s.imagesDir, slug, storyboardFileName)
}

// legacyStoryboardPath 早期版本不分slug的故事板位置
func (s *AssetStore) legacyStoryboardPath() string {
	return filepath.Join(s.imagesDir, storyboardFileName)
}

// SlugDir slug下生成产物的根目录
func (s *AssetStore) SlugDir(slug string) string {
	return filepath.Join(s.scenesDir, slug)
}

// ---- 原子写入 ----

// WriteAsset 原子写入一个素材文件，目录不存在时自动创建
func (s *AssetStore) WriteAsset(fullPath string, data []byte) error {
	lock := s.getFileLock(fullPath)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}

	// 先写临时文件再改名，避免读到半成品
	tempPath := fullPath + ".tmp"

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("保存临时文件失败: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("保存文件失败: %w", err)
	}

	return nil
}

// ReadAsset 读取一个素材文件
func (s *AssetStore) ReadAsset(fullPath string) ([]byte, error) {
	lock := s.getFileLock(fullPath)
	lock.RLock()
	defer lock.RUnlock()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return content, nil
}

// AssetExists 检查素材是否存在
func (s *AssetStore) AssetExists(fullPath string) bool {
	_, err := os.Stat(fullPath)
	return err == nil
}

// ---- 故事板 ----

// SaveStoryboard 保存slug的故事板场景列表
func (s *AssetStore) SaveStoryboard(slug string, scenes interface{}) error {
	content, err := json.MarshalIndent(scenes, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化故事板失败: %w", err)
	}
	return s.WriteAsset(s.StoryboardPath(slug), content)
}

// LoadStoryboard 读取slug的故事板，找不到时回退到旧版公共位置
func (s *AssetStore) LoadStoryboard(slug string, v interface{}) error {
	path := s.StoryboardPath(slug)
	if !s.AssetExists(path) {
		path = s.legacyStoryboardPath()
	}

	content, err := s.ReadAsset(path)
	if err != nil {
		return fmt.Errorf("故事板不存在: %s", s.StoryboardPath(slug))
	}

	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("解析故事板失败: %w", err)
	}
	return nil
}

// HasStoryboard 检查slug是否有可用的故事板
func (s *AssetStore) HasStoryboard(slug string) bool {
	return s.AssetExists(s.StoryboardPath(slug)) || s.AssetExists(s.legacyStoryboardPath())
}

// ---- 角色参考图 ----

// CharAssetPaths 返回所有角色参考图路径，按文件名排序
func (s *AssetStore) CharAssetPaths() []string {
	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		return nil
	}

	var matches []string
	for _, entry := range entries {
		if entry.IsDir() || !charAssetRE.MatchString(entry.Name()) {
			continue
		}
		matches = append(matches, filepath.Join(s.imagesDir, entry.Name()))
	}
	sort.Strings(matches)
	return matches
}

// SaveCharAsset 保存一张角色参考图，编号取当前最大值加一。
// 扩展名保留原样，后续按扩展名推断mime类型。
func (s *AssetStore) SaveCharAsset(data []byte, ext string) (string, error) {
	s.assetMutex.Lock()
	defer s.assetMutex.Unlock()

	ext = strings.ToLower(ext)
	switch ext {
	case ".png", ".jpg", ".jpeg", ".webp":
	case "":
		ext = ".png"
	default:
		return "", fmt.Errorf("不支持的图片格式: %s", ext)
	}

	nextIdx := s.nextCharAssetIndex()
	filename := fmt.Sprintf("char_asset%d%s", nextIdx, ext)

	if err := s.WriteAsset(filepath.Join(s.imagesDir, filename), data); err != nil {
		return "", err
	}
	return filename, nil
}

// nextCharAssetIndex 扫描现有编号，返回下一个可用编号
func (s *AssetStore) nextCharAssetIndex() int {
	maxIdx := 0

	entries, err := os.ReadDir(s.imagesDir)
	if err != nil {
		return 1
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := charAssetRE.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		if idx, err := strconv.Atoi(match[1]); err == nil && idx > maxIdx {
			maxIdx = idx
		}
	}

	return maxIdx + 1
}

// ---- 场景视频发现 ----

// ListSceneVideos 列出slug下已落盘的场景视频，按场景编号数值排序。
// 数值排序保证scene10排在scene2之后。
func (s *AssetStore) ListSceneVideos(slug string) []SceneVideo {
	videoRoot := filepath.Join(s.scenesDir, slug, "video")

	entries, err := os.ReadDir(videoRoot)
	if err != nil {
		return nil
	}

	var videos []SceneVideo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := sceneMp4RE.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		idx, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		videos = append(videos, SceneVideo{
			Index: idx,
			Path:  filepath.Join(videoRoot, entry.Name()),
		})
	}

	sort.Slice(videos, func(i, j int) bool {
		return videos[i].Index < videos[j].Index
	})

	return videos
}

// ListSceneImages 列出slug下已生成的场景图路径，按文件名排序
func (s *AssetStore) ListSceneImages(slug string) []string {
	matches, err := filepath.Glob(filepath.Join(s.scenesDir, slug, "images", "scene*.png"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// ListVoiceovers 列出slug下的配音文件路径，按文件名排序
func (s *AssetStore) ListVoiceovers(slug string) []string {
	matches, err := filepath.Glob(filepath.Join(s.scenesDir, slug, "audio", "*.mp3"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// ListSlugs 列出所有有生成产物的slug
func (s *AssetStore) ListSlugs() ([]string, error) {
	entries, err := os.ReadDir(s.scenesDir)
	if err != nil {
		return nil, fmt.Errorf("读取素材目录失败: %w", err)
	}

	var slugs []string
	for _, entry := range entries {
		if entry.IsDir() {
			slugs = append(slugs, entry.Name())
		}
	}

	sort.Strings(slugs)
	return slugs, nil
}
