package whisper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestJoinSegments(t *testing.T) {
	segments := []Segment{
		{Start: 0, End: 1, Text: "  Hello "},
		{Start: 1, End: 2, Text: ""},
		{Start: 2, End: 3, Text: "   "},
		{Start: 3, End: 4, Text: "world."},
	}
	if got := JoinSegments(segments); got != "Hello world." {
		t.Fatalf("JoinSegments = %q, want %q", got, "Hello world.")
	}
	if got := JoinSegments(nil); got != "" {
		t.Fatalf("JoinSegments(nil) = %q, want empty", got)
	}
}

func writeTestAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF fake"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestClientRetriesWithVAD(t *testing.T) {
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		vad := r.FormValue("vad_filter")
		calls = append(calls, vad)

		resp := inferenceResponse{Language: "en", LanguageProbability: 0.9}
		if vad == "true" {
			resp.Segments = []Segment{{Start: 0, End: 1.5, Text: "found it"}}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := NewClient(server.URL, "base")
	result, err := c.Transcribe(context.Background(), Request{AudioPath: writeTestAudio(t)})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if len(calls) != 2 || calls[0] != "false" || calls[1] != "true" {
		t.Fatalf("expected VAD-off then VAD-on, got %v", calls)
	}
	if got := JoinSegments(result.Segments); got != "found it" {
		t.Fatalf("transcript = %q, want %q", got, "found it")
	}
	if result.DetectedLanguage != "en" {
		t.Fatalf("detected language = %q, want en", result.DetectedLanguage)
	}
}

func TestClientPreservesEmptyResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(inferenceResponse{Language: "en"})
	}))
	defer server.Close()

	c := NewClient(server.URL, "base")
	result, err := c.Transcribe(context.Background(), Request{AudioPath: writeTestAudio(t)})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if len(result.Segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(result.Segments))
	}
}

func TestClientSurfacesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "base")
	if _, err := c.Transcribe(context.Background(), Request{AudioPath: writeTestAudio(t)}); err == nil {
		t.Fatal("expected error from 500 response")
	}
}

type fakeEngine struct{ model string }

func (f *fakeEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	return &Result{}, nil
}
func (f *fakeEngine) Name() string { return f.model }

func TestModelCacheReusesEngines(t *testing.T) {
	loads := 0
	cache := NewModelCache(func(ctx context.Context, model string) (Engine, error) {
		loads++
		return &fakeEngine{model: model}, nil
	})

	a, err := cache.GetOrLoad(context.Background(), "base")
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	b, err := cache.GetOrLoad(context.Background(), "base")
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if a != b {
		t.Fatal("expected cached engine instance")
	}
	if loads != 1 {
		t.Fatalf("factory called %d times, want 1", loads)
	}
}

func TestModelCacheRejectsUnknownModel(t *testing.T) {
	cache := NewModelCache(func(ctx context.Context, model string) (Engine, error) {
		return &fakeEngine{model: model}, nil
	})
	if _, err := cache.GetOrLoad(context.Background(), "gigantic"); err == nil {
		t.Fatal("expected error for unknown model size")
	}
}

func TestModelCacheFallsBackToTiny(t *testing.T) {
	cache := NewModelCache(func(ctx context.Context, model string) (Engine, error) {
		if model == "large-v3" {
			return nil, errors.New("out of memory")
		}
		return &fakeEngine{model: model}, nil
	})

	engine, err := cache.GetOrLoad(context.Background(), "large-v3")
	if err != nil {
		t.Fatalf("expected fallback, got %v", err)
	}
	if engine.Name() != FallbackModel {
		t.Fatalf("engine = %s, want fallback %s", engine.Name(), FallbackModel)
	}
}

func TestModelCacheFatalWhenFallbackFails(t *testing.T) {
	cache := NewModelCache(func(ctx context.Context, model string) (Engine, error) {
		return nil, errors.New("no runtime")
	})

	_, err := cache.GetOrLoad(context.Background(), "base")
	if !errors.Is(err, ErrEngineLoad) {
		t.Fatalf("expected ErrEngineLoad, got %v", err)
	}
}
