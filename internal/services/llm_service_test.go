// internal/services/llm_service_test.go
package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCleanLLMJSONResponse(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "代码块包裹",
			raw:  "```json\n{\"key\": \"value\"}\n```",
			want: `{"key": "value"}`,
		},
		{
			name: "前置解释文字",
			raw:  "Here is the JSON you asked for:\n{\"key\": \"value\"}",
			want: `{"key": "value"}`,
		},
		{
			name: "尾部多余文字",
			raw:  `{"key": "value"} Hope this helps!`,
			want: `{"key": "value"}`,
		},
		{
			name: "数组响应",
			raw:  "Sure:\n[{\"a\": 1}, {\"a\": 2}]\nDone.",
			want: `[{"a": 1}, {"a": 2}]`,
		},
		{
			name: "已是干净JSON",
			raw:  `{"a": [1, 2, 3]}`,
			want: `{"a": [1, 2, 3]}`,
		},
		{
			name: "BOM与零宽字符",
			raw:  "\uFEFF{\"key\": \"val\u200Bue\"}",
			want: `{"key": "value"}`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := CleanLLMJSONResponse(c.raw)
			if got != c.want {
				t.Errorf("清洗结果不符:\n原文: %q\n得到: %q\n期望: %q", c.raw, got, c.want)
			}
		})
	}
}

func TestCleanLLMJSONResponseFullWidthPunctuation(t *testing.T) {
	raw := "{“key”：“value”，“n”：1}"
	got := CleanLLMJSONResponse(raw)
	if !strings.Contains(got, `"key"`) || !strings.Contains(got, `:`) {
		t.Errorf("全角标点应被归一化: %q", got)
	}
}

func TestCreateStructuredCompletionNotReady(t *testing.T) {
	svc := NewEmptyLLMService()

	var out map[string]interface{}
	err := svc.CreateStructuredCompletion(context.Background(), "prompt", "", &out)
	if err == nil {
		t.Fatal("未配置provider时应报错")
	}
}

func TestCreateStructuredCompletionParsesAndCaches(t *testing.T) {
	requests := 0
	server := newFakeLLMServer(t, func(prompt string) string {
		requests++
		return "```json\n{\"answer\": \"ok\", \"count\": 3}\n```"
	})
	defer server.Close()

	svc := newTestLLMService(t, server.URL)

	type result struct {
		Answer string `json:"answer"`
		Count  int    `json:"count"`
	}

	var first result
	if err := svc.CreateStructuredCompletion(context.Background(), "测试提示", "", &first); err != nil {
		t.Fatalf("结构化补全失败: %v", err)
	}
	if first.Answer != "ok" || first.Count != 3 {
		t.Errorf("解析结果不符: %+v", first)
	}

	// 相同提示应命中缓存, 不再请求网络
	var second result
	if err := svc.CreateStructuredCompletion(context.Background(), "测试提示", "", &second); err != nil {
		t.Fatalf("缓存读取失败: %v", err)
	}
	if second != first {
		t.Errorf("缓存结果应一致: %+v vs %+v", second, first)
	}
	if requests != 1 {
		t.Errorf("第二次调用应命中缓存, 实际请求 %d 次", requests)
	}
}

func TestCreateStructuredCompletionRequestIsDeterministic(t *testing.T) {
	type chatRequest struct {
		Temperature    *float64 `json:"temperature"`
		ResponseFormat struct {
			Type string `json:"type"`
		} `json:"response_format"`
	}

	var captured chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "{}"}}]}`))
	}))
	defer server.Close()

	svc := newTestLLMService(t, server.URL)

	var out map[string]interface{}
	if err := svc.CreateStructuredCompletion(context.Background(), "确定性请求", "", &out); err != nil {
		t.Fatalf("结构化补全失败: %v", err)
	}

	if captured.Temperature == nil || *captured.Temperature != 0 {
		t.Errorf("结构化补全应使用零温度: %v", captured.Temperature)
	}
	if captured.ResponseFormat.Type != "json_object" {
		t.Errorf("应请求JSON响应格式: %q", captured.ResponseFormat.Type)
	}
}

func TestGetProviderStatus(t *testing.T) {
	svc := NewEmptyLLMService()
	ready, _ := svc.GetProviderStatus()
	if ready {
		t.Error("空服务不应是就绪状态")
	}

	server := newFakeLLMServer(t, func(prompt string) string { return "{}" })
	defer server.Close()

	configured := newTestLLMService(t, server.URL)
	ready, state := configured.GetProviderStatus()
	if !ready || state != "Ready" {
		t.Errorf("配置后应就绪: ready=%v state=%s", ready, state)
	}
}
