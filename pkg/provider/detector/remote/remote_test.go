package remote_test

import (
	"context"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/restquest/pkg/provider/detector/remote"
	"github.com/MrWong99/restquest/pkg/vision"
)

func newDetector(t *testing.T, body string, opts ...remote.Option) *remote.Detector {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/detect" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	d, err := remote.New(srv.URL, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return d
}

func frame() vision.Frame {
	return vision.Frame{Image: image.NewRGBA(image.Rect(0, 0, 100, 80))}
}

func TestDetect_OrdersByScore(t *testing.T) {
	t.Parallel()
	d := newDetector(t, `{"faces":[{"box":[0,0,10,10],"score":0.4},{"box":[20,10,30,40],"score":0.9}]}`)
	regions, err := d.Detect(context.Background(), frame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(regions) != 2 {
		t.Fatalf("regions = %d, want 2", len(regions))
	}
	if want := image.Rect(20, 10, 50, 50); regions[0].Bounds != want {
		t.Errorf("first region = %v, want %v", regions[0].Bounds, want)
	}
	if b := regions[0].Image.Bounds(); b.Dx() != 30 || b.Dy() != 40 {
		t.Errorf("crop size = %v", b)
	}
}

func TestDetect_FiltersAndClips(t *testing.T) {
	t.Parallel()
	d := newDetector(t, `{"faces":[{"box":[90,70,50,50],"score":0.95},{"box":[200,200,5,5],"score":0.9},{"box":[0,0,10,10],"score":0.1}]}`,
		remote.WithMinScore(0.5))
	regions, err := d.Detect(context.Background(), frame())
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("regions = %v, want the single clipped face", regions)
	}
	if want := image.Rect(90, 70, 100, 80); regions[0].Bounds != want {
		t.Errorf("bounds = %v, want %v", regions[0].Bounds, want)
	}
}

func TestDetect_NoFaces(t *testing.T) {
	t.Parallel()
	d := newDetector(t, `{"faces":[]}`)
	regions, err := d.Detect(context.Background(), frame())
	if err != nil || len(regions) != 0 {
		t.Fatalf("Detect = %v, %v", regions, err)
	}
}

func TestDetect_ServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	d, _ := remote.New(srv.URL)
	if _, err := d.Detect(context.Background(), frame()); err == nil {
		t.Fatal("expected error")
	}
}
