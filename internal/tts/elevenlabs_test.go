// internal/tts/elevenlabs_test.go
package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestTTSClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient("test-key", "voice-default", "")
	if err != nil {
		t.Fatalf("创建客户端失败: %v", err)
	}
	client.baseURL = server.URL
	return client
}

func TestSynthesizeSendsTextAndModel(t *testing.T) {
	client := newTestTTSClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/text-to-speech/voice-custom") {
			t.Errorf("请求路径不符: %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Error("缺少API密钥头")
		}

		var req struct {
			Text    string `json:"text"`
			ModelID string `json:"model_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("解析请求失败: %v", err)
		}
		if req.Text != "Fast delivery." || req.ModelID == "" {
			t.Errorf("请求体不符: %+v", req)
		}

		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("mp3-bytes"))
	})

	audio, err := client.Synthesize(context.Background(), "Fast delivery.", "voice-custom")
	if err != nil {
		t.Fatalf("合成失败: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("音频数据不符: %s", audio)
	}
}

func TestSynthesizeFallsBackToDefaultVoice(t *testing.T) {
	client := newTestTTSClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/text-to-speech/voice-default") {
			t.Errorf("应使用默认音色: %s", r.URL.Path)
		}
		w.Write([]byte("mp3"))
	})

	if _, err := client.Synthesize(context.Background(), "hello", ""); err != nil {
		t.Fatalf("合成失败: %v", err)
	}
}

func TestSynthesizeEmptyText(t *testing.T) {
	client := newTestTTSClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("空文本不应触发请求")
	})

	if _, err := client.Synthesize(context.Background(), "", "voice"); err == nil {
		t.Fatal("空文本应报错")
	}
}

func TestSynthesizeAPIError(t *testing.T) {
	client := newTestTTSClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid voice", http.StatusUnprocessableEntity)
	})

	_, err := client.Synthesize(context.Background(), "hello", "bad-voice")
	if err == nil || !strings.Contains(err.Error(), "422") {
		t.Fatalf("应返回带状态码的错误: %v", err)
	}
}

func TestSynthesizeEmptyAudio(t *testing.T) {
	client := newTestTTSClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	if _, err := client.Synthesize(context.Background(), "hello", "voice"); err == nil {
		t.Fatal("空音频应报错")
	}
}
