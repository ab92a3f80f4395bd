// internal/imagegen/client_test.go
package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key", "", "")
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	client.baseURL = server.URL
	return client
}

func imageResponse(finishReason string, data []byte) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"finishReason": finishReason,
				"content": map[string]interface{}{
					"parts": []map[string]interface{}{
						{"inlineData": map[string]string{
							"mimeType": "image/png",
							"data":     base64.StdEncoding.EncodeToString(data),
						}},
					},
				},
			},
		},
	}
	out, _ := json.Marshal(resp)
	return string(out)
}

func TestGenerateImageDecodesInlineData(t *testing.T) {
	var gotParts int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "gemini-2.5-flash-image") {
			t.Errorf("请求路径不含默认模型名: %s", r.URL.Path)
		}
		var req struct {
			Contents []struct {
				Parts []json.RawMessage `json:"parts"`
			} `json:"contents"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析请求失败: %v", err)
		}
		if len(req.Contents) == 1 {
			gotParts = len(req.Contents[0].Parts)
		}
		w.Write([]byte(imageResponse(FinishStop, []byte("png-bytes"))))
	})

	parts := []Part{
		TextPart("a chef plating a dish"),
		ImagePart([]byte("ref"), ""),
	}
	result, err := client.GenerateImage(context.Background(), parts)
	if err != nil {
		t.Fatalf("生成失败: %v", err)
	}
	if gotParts != 2 {
		t.Errorf("请求应包含2个part, 实际%d", gotParts)
	}
	if string(result.Data) != "png-bytes" || result.MimeType != "image/png" {
		t.Errorf("图像数据不符: %+v", result)
	}
	if result.Rejected() {
		t.Error("STOP结果不应视为拒绝")
	}
}

func TestGenerateImageReturnsRejection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": [{"finishReason": "IMAGE_OTHER", "content": {"parts": []}}]}`))
	})

	result, err := client.GenerateImage(context.Background(), []Part{TextPart("scene")})
	if err != nil {
		t.Fatalf("模型拒绝不应作为传输错误返回: %v", err)
	}
	if !result.Rejected() || result.FinishReason != FinishImageOther {
		t.Errorf("应返回拒绝结果: %+v", result)
	}
	if len(result.Data) != 0 {
		t.Error("拒绝结果不应携带图像数据")
	}
}

func TestGenerateImageHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	})

	if _, err := client.GenerateImage(context.Background(), []Part{TextPart("scene")}); err == nil {
		t.Fatal("HTTP错误应返回error")
	}
}

func TestGenerateImageNoCandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	if _, err := client.GenerateImage(context.Background(), []Part{TextPart("scene")}); err == nil {
		t.Fatal("空candidates应返回error")
	}
}

func TestImagePartDefaultsMimeType(t *testing.T) {
	part := ImagePart([]byte("data"), "")
	if part.MimeType != "image/png" {
		t.Errorf("缺省mime类型应为image/png: %s", part.MimeType)
	}
}

func TestResultRejected(t *testing.T) {
	if (&Result{FinishReason: FinishStop}).Rejected() {
		t.Error("STOP不应视为拒绝")
	}
	if (&Result{}).Rejected() {
		t.Error("空终止原因不应视为拒绝")
	}
	if !(&Result{FinishReason: "SAFETY"}).Rejected() {
		t.Error("非STOP终止原因应视为拒绝")
	}
}
