package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func qwenImageResponse(ref string) string {
	payload := map[string]any{
		"output": map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"content": []map[string]any{{"image": ref}},
				},
			}},
		},
		"request_id": "req-1",
	}
	raw, _ := json.Marshal(payload)
	return string(raw)
}

func TestQwenEditResolvesDataURL(t *testing.T) {
	edited := []byte("edited-bytes")
	ref := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(edited))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("unexpected authorization header %q", got)
		}
		var req qwenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input.Messages) != 1 || len(req.Input.Messages[0].Content) != 2 {
			t.Errorf("expected image and text content, got %+v", req.Input.Messages)
		}
		w.Write([]byte(qwenImageResponse(ref)))
	}))
	defer srv.Close()

	client := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	res, err := client.Edit(context.Background(), Image{Data: []byte("img")}, "warm it up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Data) != string(edited) {
		t.Fatalf("unexpected edited data %q", res.Data)
	}
	if res.Format != "image/png" {
		t.Fatalf("unexpected format %q", res.Format)
	}
}

func TestQwenEditDownloadsResultURL(t *testing.T) {
	edited := []byte("downloaded-bytes")
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/files/out.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(edited)
	})
	mux.HandleFunc("/services/aigc/multimodal-generation/generation", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(qwenImageResponse(srv.URL + "/files/out.jpg")))
	})

	client := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	res, err := client.Edit(context.Background(), Image{Data: []byte("img")}, "warm it up")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Data) != string(edited) {
		t.Fatalf("unexpected edited data %q", res.Data)
	}
	if res.Format != "image/jpeg" {
		t.Fatalf("unexpected format %q", res.Format)
	}
}

func TestQwenEditAPIErrorCodeIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"code": "InvalidParameter", "message": "prompt rejected"}`))
	}))
	defer srv.Close()

	client := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Edit(context.Background(), Image{Data: []byte("img")}, "warm it up")
	if !IsPermanent(err) {
		t.Fatalf("API-level rejection must be permanent, got %v", err)
	}
}

func TestQwenEditServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewQwen(QwenOptions{APIKey: "k", BaseURL: srv.URL, HTTPClient: srv.Client()})
	_, err := client.Edit(context.Background(), Image{Data: []byte("img")}, "warm it up")
	if !IsTransient(err) {
		t.Fatalf("503 must be transient, got %v", err)
	}
}

func TestQwenEditRequiresInstructions(t *testing.T) {
	client := NewQwen(QwenOptions{APIKey: "k"})
	_, err := client.Edit(context.Background(), Image{Data: []byte("img")}, "   ")
	if !IsPermanent(err) {
		t.Fatalf("blank instructions must be permanent, got %v", err)
	}
}

func TestQwenMissingKeyIsPermanent(t *testing.T) {
	client := NewQwen(QwenOptions{})
	_, err := client.Edit(context.Background(), Image{}, "warm it up")
	if !IsPermanent(err) {
		t.Fatalf("missing credentials must be permanent, got %v", err)
	}
}
