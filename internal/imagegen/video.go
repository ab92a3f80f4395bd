// internal/imagegen/video.go
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
	"strings"
	"time"
)

// GenerateVideo 以场景图为参考生成一段16:9视频。
// Veo接口是长时操作，这里提交后轮询直到完成，再下载成片字节。
func (c *Client) GenerateVideo(ctx context.Context, prompt string, referenceImage []byte, mimeType string) ([]byte, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}

	requestBody := map[string]interface{}{
		"instances": []map[string]interface{}{
			{
				"prompt": "generate a video from the reference image following the prompt: " + prompt,
				"referenceImages": []map[string]interface{}{
					{
						"image": map[string]interface{}{
							"bytesBase64Encoded": base64.StdEncoding.EncodeToString(referenceImage),
							"mimeType":           mimeType,
						},
						"referenceType": "asset",
					},
				},
			},
		},
		"parameters": map[string]interface{}{
			"aspectRatio": "16:9",
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/models/%s:predictLongRunning?key=%s", c.baseURL, c.videoModel, c.apiKey)

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
		return nil, fmt.Errorf("视频生成API错误(%d): %s", httpResp.StatusCode, string(body))
	}

	var submitResp struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&submitResp); err != nil {
		return nil, err
	}
	if submitResp.Name == "" {
		return nil, errors.New("视频生成未返回操作标识")
	}

	videoURI, err := c.waitForVideo(ctx, submitResp.Name)
	if err != nil {
		return nil, err
	}

	return c.downloadVideo(ctx, videoURI)
}

// waitForVideo 轮询长时操作直到完成，返回成片下载地址
func (c *Client) waitForVideo(ctx context.Context, operationName string) (string, error) {
	pollURL := fmt.Sprintf("%s/%s?key=%s", c.baseURL, operationName, c.apiKey)

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		httpReq, err := http.NewRequestWithContext(ctx, "GET", pollURL, nil)
		if err != nil {
			return "", err
		}

		httpResp, err := c.client.Do(httpReq)
		if err != nil {
			return "", err
		}

		body, err := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if err != nil {
			return "", err
		}

		if httpResp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("查询视频生成进度失败(%d): %s", httpResp.StatusCode, string(body))
		}

		var operation struct {
			Done  bool `json:"done"`
			Error *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Response struct {
				GenerateVideoResponse struct {
					GeneratedSamples []struct {
						Video struct {
							URI string `json:"uri"`
						} `json:"video"`
					} `json:"generatedSamples"`
				} `json:"generateVideoResponse"`
			} `json:"response"`
		}

		if err := json.Unmarshal(body, &operation); err != nil {
			return "", err
		}

		if !operation.Done {
			continue
		}

		if operation.Error != nil {
			return "", fmt.Errorf("视频生成失败(%d): %s", operation.Error.Code, operation.Error.Message)
		}

		samples := operation.Response.GenerateVideoResponse.GeneratedSamples
		if len(samples) == 0 || samples[0].Video.URI == "" {
			return "", errors.New("视频生成完成但没有成片")
		}

		return samples[0].Video.URI, nil
	}
}

// downloadVideo 下载成片字节
func (c *Client) downloadVideo(ctx context.Context, uri string) ([]byte, error) {
	// 下载地址同样需要携带密钥
	downloadURL := uri
	if !strings.Contains(downloadURL, "key=") {
		if strings.Contains(downloadURL, "?") {
			downloadURL += "&key=" + c.apiKey
		} else {
			downloadURL += "?key=" + c.apiKey
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, "GET", downloadURL, nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(httpResp.Body)
		return nil, fmt.Errorf("下载成片失败(%d): %s", httpResp.StatusCode, string(body))
	}

	return io.ReadAll(httpResp.Body)
}
