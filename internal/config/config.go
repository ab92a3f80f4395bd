// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	ImagesDir string `json:"images_dir"` // 角色参考图与故事板JSON根目录
	AssetDir  string `json:"asset_dir"`  // 按slug组织的生成素材根目录
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// LLM相关配置（文本补全）
	LLMProvider string            `json:"llm_provider"`
	LLMConfig   map[string]string `json:"llm_config"`

	// 图像/视频生成配置（Gemini系）
	GoogleAPIKey string `json:"google_api_key,omitempty"`
	ImageModel   string `json:"image_model"`
	VideoModel   string `json:"video_model"`

	// 语音合成配置（ElevenLabs）
	TTSAPIKey  string `json:"tts_api_key,omitempty"`
	TTSVoiceID string `json:"tts_voice_id"`
	TTSModelID string `json:"tts_model_id"`

	// 媒体转码工具
	FFmpegBin  string `json:"ffmpeg_bin"`
	FFprobeBin string `json:"ffprobe_bin"`

	// 外部抓取脚本（广告创意生成的边界协作者）
	ScraperScript  string `json:"scraper_script,omitempty"`
	ScraperTimeout int    `json:"scraper_timeout_seconds"`

	// 单次AI服务调用的超时（秒），超时按"策略失败"处理
	SceneTimeout int `json:"scene_timeout_seconds"`
}

// Load 从环境变量加载配置
func Load() (*AppConfig, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &AppConfig{
		Port:        getEnv("PORT", "8080"),
		DataDir:     getEnvPath("DATA_DIR", "data"),
		ImagesDir:   getEnvPath("IMAGES_DIR", "images"),
		AssetDir:    getEnvPath("ASSET_DIR", "generated_scenes"),
		LogDir:      getEnvPath("LOG_DIR", "logs"),
		DebugMode:   getEnvBool("DEBUG_MODE", true),
		LLMProvider: getEnv("LLM_PROVIDER", "openai"),
		LLMConfig: map[string]string{
			"api_key":       getEnv("OPENAI_API_KEY", ""),
			"default_model": getEnv("OPENAI_CHAT_MODEL", "gpt-4o"),
		},
		GoogleAPIKey:   getEnv("GOOGLE_API_KEY", ""),
		ImageModel:     getEnv("GOOGLE_IMAGE_MODEL", "gemini-2.5-flash-image"),
		VideoModel:     getEnv("GOOGLE_VIDEO_MODEL", "veo-3.1-generate-preview"),
		TTSAPIKey:      getEnv("ELEVENLABS_API_KEY", ""),
		TTSVoiceID:     getEnv("ELEVENLABS_VOICE_ID", "L1aJrPa7pLJEyYlh3Ilq"),
		TTSModelID:     getEnv("ELEVENLABS_MODEL_ID", "eleven_multilingual_v2"),
		FFmpegBin:      getEnv("FFMPEG_BIN", "ffmpeg"),
		FFprobeBin:     getEnv("FFPROBE_BIN", "ffprobe"),
		ScraperScript:  getEnv("SCRAPER_SCRIPT", filepath.Join("lightpanda-scraper", "hybrid-scraper.js")),
		ScraperTimeout: getEnvInt("SCRAPER_TIMEOUT_SECONDS", 75),
		SceneTimeout:   getEnvInt("SCENE_TIMEOUT_SECONDS", 120),
	}

	// 缺少密钥只记录警告，服务保持可启动，待设置后生效
	if config.LLMConfig["api_key"] == "" {
		log.Println("警告: 未设置OpenAI API密钥，角色一致性分析与故事板生成将不可用")
	}
	if config.GoogleAPIKey == "" {
		log.Println("警告: 未设置Google API密钥，图像/视频生成将不可用")
	}
	if config.TTSAPIKey == "" {
		log.Println("警告: 未设置ElevenLabs API密钥，配音生成将不可用")
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整数类型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = baseConfig

	// 尝试从文件加载已保存的配置（保留文件中的模型/密钥设置，基础路径以环境为准）
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.ImagesDir = baseConfig.ImagesDir
				savedConfig.AssetDir = baseConfig.AssetDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				// 文件中缺失的密钥回退到环境变量
				if savedConfig.LLMConfig != nil && savedConfig.LLMConfig["api_key"] == "" {
					savedConfig.LLMConfig["api_key"] = baseConfig.LLMConfig["api_key"]
				}
				if savedConfig.GoogleAPIKey == "" {
					savedConfig.GoogleAPIKey = baseConfig.GoogleAPIKey
				}
				if savedConfig.TTSAPIKey == "" {
					savedConfig.TTSAPIKey = baseConfig.TTSAPIKey
				}

				currentConfig = &savedConfig
			}
		}
	}

	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return baseConfig
	}

	configCopy := *currentConfig
	return &configCopy
}

// UpdateLLMConfig 更新LLM配置
func UpdateLLMConfig(provider string, config map[string]string) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}

	currentConfig.LLMProvider = provider
	currentConfig.LLMConfig = config

	return SaveConfig()
}

// SaveConfig 保存当前配置到文件
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
