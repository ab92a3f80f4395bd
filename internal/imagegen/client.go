// internal/imagegen/client.go
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// 生成终止原因
const (
	FinishStop       = "STOP"
	FinishImageOther = "IMAGE_OTHER"
)

// Part 一段多模态输入内容，文本与图片二选一
type Part struct {
	Text     string
	Data     []byte
	MimeType string
}

// TextPart 构建文本内容
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart 构建图片内容
func ImagePart(data []byte, mimeType string) Part {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return Part{Data: data, MimeType: mimeType}
}

// Result 单次图像生成的结果。
// FinishReason非STOP时Data为空，由调用方决定降级策略。
type Result struct {
	Data         []byte
	MimeType     string
	FinishReason string
}

// Rejected 判断模型是否因参考图问题拒绝生成
func (r *Result) Rejected() bool {
	return r.FinishReason != "" && r.FinishReason != FinishStop
}

// Generator 图像生成接口
type Generator interface {
	GenerateImage(ctx context.Context, parts []Part) (*Result, error)
}

// VideoGenerator 场景视频生成接口
type VideoGenerator interface {
	GenerateVideo(ctx context.Context, prompt string, referenceImage []byte, mimeType string) ([]byte, error)
}

// Client 基于Gemini REST接口的图像/视频生成客户端
type Client struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	imageModel   string
	videoModel   string
	pollInterval time.Duration
}

// NewClient 创建生成客户端
func NewClient(apiKey, imageModel, videoModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("google API密钥未提供")
	}

	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}
	if videoModel == "" {
		videoModel = "veo-3.1-generate-preview"
	}

	return &Client{
		apiKey:       apiKey,
		baseURL:      "https://generativelanguage.googleapis.com/v1beta",
		client:       &http.Client{},
		imageModel:   imageModel,
		videoModel:   videoModel,
		pollInterval: 10 * time.Second,
	}, nil
}

// GenerateImage 调用图像模型生成一张16:9的场景图。
// 传输层失败返回error；模型拒绝（如参考图过多）返回带FinishReason的Result。
func (c *Client) GenerateImage(ctx context.Context, parts []Part) (*Result, error) {
	apiParts := make([]map[string]interface{}, 0, len(parts))
	for _, part := range parts {
		if part.Text != "" {
			apiParts = append(apiParts, map[string]interface{}{"text": part.Text})
			continue
		}
		apiParts = append(apiParts, map[string]interface{}{
			"inlineData": map[string]interface{}{
				"mimeType": part.MimeType,
				"data":     base64.StdEncoding.EncodeToString(part.Data),
			},
		})
	}

	requestBody := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"role": "user", "parts": apiParts},
		},
		"generationConfig": map[string]interface{}{
			"responseModalities": []string{"IMAGE"},
			"imageConfig": map[string]interface{}{
				"aspectRatio": "16:9",
			},
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.imageModel, c.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("图像生成API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var response struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					InlineData *struct {
						MimeType string `json:"mimeType"`
						Data     string `json:"data"`
					} `json:"inlineData"`
				} `json:"parts"`
			} `json:"content"`
			FinishReason string `json:"finishReason"`
		} `json:"candidates"`
	}

	if err := json.NewDecoder(httpResp.Body).Decode(&response); err != nil {
		return nil, err
	}

	if len(response.Candidates) == 0 {
		return nil, errors.New("图像模型未返回任何结果")
	}

	candidate := response.Candidates[0]

	// 非STOP的终止原因交给调用方处理，不视为传输错误
	if candidate.FinishReason != "" && candidate.FinishReason != FinishStop {
		return &Result{FinishReason: candidate.FinishReason}, nil
	}

	for _, part := range candidate.Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("解码图像数据失败: %w", err)
			}
			return &Result{
				Data:         data,
				MimeType:     part.InlineData.MimeType,
				FinishReason: FinishStop,
			}, nil
		}
	}

	return nil, errors.New("响应中没有图像数据")
}
