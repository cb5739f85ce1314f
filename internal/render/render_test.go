package render

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kayz/sdxlprompt/internal/config"
)

var fakePNG = []byte("\x89PNG\r\n\x1a\nfake")

func TestRenderWritesDecodedImage(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"created":1,"data":[{"b64_json":%q}]}`, base64.StdEncoding.EncodeToString(fakePNG))
	}))
	defer srv.Close()

	words := make([]string, 80)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	out := filepath.Join(t.TempDir(), "png", "out.png")

	r := New(config.RenderConfig{BaseURL: srv.URL + "/v1", MaxTokens: 75})
	res, err := r.Render(context.Background(), RenderRequest{Prompt: strings.Join(words, " "), Output: out})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !res.Truncated || len(strings.Fields(res.Prompt)) != 75 {
		t.Fatalf("expected truncation to 75 tokens, got %d (truncated=%v)", len(strings.Fields(res.Prompt)), res.Truncated)
	}
	if got["prompt"] != res.Prompt || got["model"] != defaultModel || got["size"] != defaultSize || got["response_format"] != "b64_json" {
		t.Fatalf("unexpected request %v", got)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if string(data) != string(fakePNG) || res.Bytes != len(fakePNG) {
		t.Fatalf("unexpected image bytes %q", data)
	}
}

func TestRenderDownloadsURLFallback(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/images/generations":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"created":1,"data":[{"url":%q}]}`, srv.URL+"/files/out.png")
		case "/files/out.png":
			w.Write(fakePNG)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "out.png")
	r := New(config.RenderConfig{BaseURL: srv.URL})
	res, err := r.Render(context.Background(), RenderRequest{Prompt: "castle at dusk", Output: out, Size: "512x512"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if res.Truncated || res.Prompt != "castle at dusk" {
		t.Fatalf("unexpected result %+v", res)
	}
	data, _ := os.ReadFile(out)
	if string(data) != string(fakePNG) {
		t.Fatalf("unexpected image bytes %q", data)
	}
}

func TestRenderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"created":1,"data":[]}`)
	}))
	defer srv.Close()

	r := New(config.RenderConfig{BaseURL: srv.URL})
	ctx := context.Background()
	if _, err := r.Render(ctx, RenderRequest{Prompt: "x", Output: filepath.Join(t.TempDir(), "o.png")}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
	if _, err := r.Render(ctx, RenderRequest{Prompt: "x"}); err == nil {
		t.Fatalf("expected error without output path")
	}
	if _, err := r.Render(ctx, RenderRequest{Prompt: "  ", Output: "o.png"}); err == nil {
		t.Fatalf("expected error for empty prompt")
	}
}
