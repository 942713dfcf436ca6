package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/nxkoi/vox-navigator/internal/device"
	"github.com/nxkoi/vox-navigator/internal/synth"
	"github.com/nxkoi/vox-navigator/internal/wav"
)

type stubSelector struct {
	dev device.Descriptor
	err error
}

func (s *stubSelector) Detect(ctx context.Context) (device.Descriptor, error) {
	return s.dev, s.err
}

type stubEngine struct {
	synthErr error
}

func (e *stubEngine) LoadModel(ctx context.Context, modelPath string) error { return nil }

func (e *stubEngine) Synthesize(ctx context.Context, text, outputPath string) (string, error) {
	if e.synthErr != nil {
		return "", e.synthErr
	}
	return wav.WriteInt16([]int16{1, 2, 3}, outputPath, 22050, 1)
}

func (e *stubEngine) Info() synth.EngineInfo {
	return synth.EngineInfo{Name: "stub", SampleRate: 22050, Channels: 1, BitDepth: 16}
}

func (e *stubEngine) Close() error { return nil }

func newTestServer(t *testing.T, cfg Config, eng synth.Engine, engErr error, sel synth.DeviceSelector) *Server {
	t.Helper()
	if sel == nil {
		sel = &stubSelector{dev: device.CPUDescriptor("test")}
	}
	m := synth.New(synth.Config{
		Selector: sel,
		Factory: func(d device.Descriptor) (synth.Engine, error) {
			if engErr != nil {
				return nil, engErr
			}
			return eng, nil
		},
		OutputDir: t.TempDir(),
	})
	t.Cleanup(func() { _ = m.Close() })
	return New(cfg, m)
}

func postTTS(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/tts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestSynthesizeEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, &stubEngine{}, nil, nil)
	h := srv.Handler()

	rec := postTTS(t, h, `{"text": "Hello world"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Content-Type = %q, want audio/wav", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "tts_") {
		t.Errorf("Content-Disposition = %q, want the generated filename", cd)
	}

	body, _ := io.ReadAll(rec.Body)
	if len(body) < 44 || string(body[0:4]) != "RIFF" || string(body[8:12]) != "WAVE" {
		t.Error("body is not a WAV container")
	}
}

func TestSynthesizeEndpointRemovesTransientFile(t *testing.T) {
	outDir := t.TempDir()
	m := synth.New(synth.Config{
		Selector:  &stubSelector{dev: device.CPUDescriptor("test")},
		Factory:   func(d device.Descriptor) (synth.Engine, error) { return &stubEngine{}, nil },
		OutputDir: outDir,
	})
	srv := New(Config{}, m)

	rec := postTTS(t, srv.Handler(), `{"text": "Hello"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	// The output directory must be empty again after the file was served.
	entries, err := os.ReadDir(outDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("output dir holds %d files after serving, want 0", len(entries))
	}
}

func TestSynthesizeEndpointRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, Config{}, &stubEngine{}, nil, nil)
	h := srv.Handler()

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty text", `{"text": ""}`, http.StatusBadRequest},
		{"whitespace text", `{"text": "   "}`, http.StatusBadRequest},
		{"invalid json", `{"text": `, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postTTS(t, h, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	t.Run("GET not allowed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/tts", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", rec.Code)
		}
	})
}

func TestSynthesizeEndpointErrorStatuses(t *testing.T) {
	tests := []struct {
		name   string
		eng    *stubEngine
		engErr error
		sel    synth.DeviceSelector
		want   int
	}{
		{
			name:   "engine load failure is 503",
			engErr: errors.New("cuda driver crashed"),
			sel:    &stubSelector{dev: device.CPUDescriptor("test")},
			want:   http.StatusServiceUnavailable,
		},
		{
			name: "device detection failure is 503",
			sel:  &stubSelector{err: errors.New("probe crashed")},
			want: http.StatusServiceUnavailable,
		},
		{
			name: "synthesis failure is 500",
			eng:  &stubEngine{synthErr: synth.NewError(synth.KindSynthesis, "inference failed")},
			sel:  &stubSelector{dev: device.CPUDescriptor("test")},
			want: http.StatusInternalServerError,
		},
		{
			name: "audio write failure is 500",
			eng:  &stubEngine{synthErr: synth.NewError(synth.KindAudioWrite, "disk full")},
			sel:  &stubSelector{dev: device.CPUDescriptor("test")},
			want: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Config{}, tt.eng, tt.engErr, tt.sel)
			rec := postTTS(t, srv.Handler(), `{"text": "Hello"}`)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body is not JSON: %v", err)
			}
			if body["detail"] == "" {
				t.Error("error body should carry a detail message")
			}
		})
	}
}

func TestSynthesizeEndpointRateLimit(t *testing.T) {
	srv := newTestServer(t, Config{SynthPerMinute: 1}, &stubEngine{}, nil, nil)
	h := srv.Handler()

	if rec := postTTS(t, h, `{"text": "one"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	if rec := postTTS(t, h, `{"text": "two"}`); rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, &stubEngine{}, nil, nil)
	h := srv.Handler()

	get := func() map[string]any {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		return body
	}

	body := get()
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
	if body["engine_initialized"] != false {
		t.Error("engine_initialized = true before first synthesis")
	}

	if rec := postTTS(t, h, `{"text": "warm up"}`); rec.Code != http.StatusOK {
		t.Fatalf("synthesis failed: %d", rec.Code)
	}

	body = get()
	if body["engine_initialized"] != true {
		t.Error("engine_initialized = false after synthesis")
	}
	if body["device"] != "cpu" {
		t.Errorf("device = %v, want cpu", body["device"])
	}
}

func TestDeviceEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, &stubEngine{}, nil, &stubSelector{
		dev: device.Descriptor{Kind: device.CUDA, Name: "Fake GPU", Backend: "cuda", Detail: "CUDA 12"},
	})

	req := httptest.NewRequest(http.MethodGet, "/device", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["kind"] != "cuda" || body["name"] != "Fake GPU" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRootEndpoint(t *testing.T) {
	srv := newTestServer(t, Config{}, &stubEngine{}, nil, nil)
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	tests := []struct {
		kind synth.Kind
		want int
	}{
		{synth.KindDevice, http.StatusServiceUnavailable},
		{synth.KindEngineLoad, http.StatusServiceUnavailable},
		{synth.KindSynthesis, http.StatusInternalServerError},
		{synth.KindAudioWrite, http.StatusInternalServerError},
		{synth.KindGeneric, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForKind(tt.kind); got != tt.want {
			t.Errorf("statusForKind(%v) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}
