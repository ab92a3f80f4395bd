// internal/tts/elevenlabs.go
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Synthesizer 文本转语音接口
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
	DefaultVoiceID() string
}

// Client 基于ElevenLabs REST接口的语音合成客户端
type Client struct {
	apiKey         string
	baseURL        string
	client         *http.Client
	defaultVoiceID string
	modelID        string
}

// NewClient 创建语音合成客户端
func NewClient(apiKey, voiceID, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("ElevenLabs API密钥未提供")
	}

	if voiceID == "" {
		voiceID = "L1aJrPa7pLJEyYlh3Ilq"
	}
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}

	return &Client{
		apiKey:         apiKey,
		baseURL:        "https://api.elevenlabs.io/v1",
		client:         &http.Client{},
		defaultVoiceID: voiceID,
		modelID:        modelID,
	}, nil
}

// DefaultVoiceID 返回默认音色
func (c *Client) DefaultVoiceID() string {
	return c.defaultVoiceID
}

// Synthesize 合成一段MP3语音
func (c *Client) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("配音文本为空")
	}

	if voiceID == "" {
		voiceID = c.defaultVoiceID
	}

	requestBody := map[string]interface{}{
		"text":     text,
		"model_id": c.modelID,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, voiceID)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("ElevenLabs API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if len(audio) == 0 {
		return nil, errors.New("ElevenLabs未返回音频数据")
	}

	return audio, nil
}
