package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/log"
	"github.com/Brownie44l1/tsr-api/internal/pipeline"
	"github.com/Brownie44l1/tsr-api/internal/tensor"
)

// stubClassifier always scores class `class` highest and `class+1` second.
type stubClassifier struct {
	class int
	err   error
}

func (s stubClassifier) Run(input []float32) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]float32, labels.Count)
	out[s.class] = 0.8
	out[(s.class+1)%labels.Count] = 0.15
	return out, nil
}

func (s stubClassifier) Close() error { return nil }

func newTestServer(t *testing.T, clf stubClassifier, maxUpload int64) *httptest.Server {
	t.Helper()
	log.SetOutput(io.Discard, "error")

	opener := pipeline.OpenerFunc(func() (pipeline.Classifier, error) { return clf, nil })
	h := NewHandler(pipeline.New(tensor.Default, opener, nil), maxUpload)

	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, stubClassifier{}, 0)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]string
	decode(t, resp, &body)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("GET /health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestLabels(t *testing.T) {
	srv := newTestServer(t, stubClassifier{}, 0)

	resp, err := http.Get(srv.URL + "/labels")
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Labels []string `json:"labels"`
	}
	decode(t, resp, &body)
	if len(body.Labels) != labels.Count || body.Labels[42] != "Category 42" {
		t.Errorf("GET /labels = %d labels", len(body.Labels))
	}
}

func TestPredict(t *testing.T) {
	srv := newTestServer(t, stubClassifier{class: 14}, 0)

	payload, _ := json.Marshal(PredictionRequest{Image: make([]float32, tensor.Size)})
	resp, err := http.Post(srv.URL+"/predict?top=2", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		ID    string              `json:"id"`
		Label string              `json:"label"`
		Index int                 `json:"index"`
		Top   []labels.Prediction `json:"top"`
	}
	decode(t, resp, &body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /predict status = %d", resp.StatusCode)
	}
	if body.Label != "Category 14" || body.Index != 14 || body.ID == "" {
		t.Errorf("POST /predict = %+v", body)
	}
	if len(body.Top) != 2 || body.Top[1].Index != 15 {
		t.Errorf("top = %+v", body.Top)
	}
}

func TestPredictErrors(t *testing.T) {
	srv := newTestServer(t, stubClassifier{}, 0)
	failing := newTestServer(t, stubClassifier{err: errors.New("engine down")}, 0)
	tiny := newTestServer(t, stubClassifier{}, 64)

	valid, _ := json.Marshal(PredictionRequest{Image: make([]float32, tensor.Size)})
	short, _ := json.Marshal(PredictionRequest{Image: make([]float32, 10)})

	tests := []struct {
		name   string
		base   string
		method string
		path   string
		body   []byte
		want   int
	}{
		{"wrong method", srv.URL, http.MethodGet, "/predict", nil, http.StatusMethodNotAllowed},
		{"bad json", srv.URL, http.MethodPost, "/predict", []byte("{"), http.StatusBadRequest},
		{"short tensor", srv.URL, http.MethodPost, "/predict", short, http.StatusBadRequest},
		{"bad top", srv.URL, http.MethodPost, "/predict?top=x", valid, http.StatusBadRequest},
		{"engine failure", failing.URL, http.MethodPost, "/predict", valid, http.StatusInternalServerError},
		{"too large", tiny.URL, http.MethodPost, "/predict", valid, http.StatusRequestEntityTooLarge},
		{"options", srv.URL, http.MethodOptions, "/predict", nil, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, tt.base+tt.path, bytes.NewReader(tt.body))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}

func multipartImage(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "sign.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: 220, G: 20, B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPredictFromImage(t *testing.T) {
	srv := newTestServer(t, stubClassifier{class: 3}, 0)

	body, contentType := multipartImage(t, "image", pngBytes(t, 64, 64))
	resp, err := http.Post(srv.URL+"/predict/image", contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Label  string             `json:"label"`
		Scores map[string]float32 `json:"scores"`
	}
	decode(t, resp, &got)
	if resp.StatusCode != http.StatusOK || got.Label != "Category 3" {
		t.Errorf("POST /predict/image = %d %+v", resp.StatusCode, got)
	}
	if len(got.Scores) != labels.Count {
		t.Errorf("scores has %d entries, want %d", len(got.Scores), labels.Count)
	}
}

func TestPredictFromImageErrors(t *testing.T) {
	srv := newTestServer(t, stubClassifier{}, 0)

	tests := []struct {
		name  string
		field string
		data  []byte
		want  int
	}{
		{"not an image", "image", []byte("hello"), http.StatusBadRequest},
		{"wrong field", "photo", pngBytes(t, 8, 8), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := multipartImage(t, tt.field, tt.data)
			resp, err := http.Post(srv.URL+"/predict/image", contentType, body)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	resp, err := http.Post(srv.URL+"/predict/image", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-multipart status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	if got := statusFor(tensor.ErrInvalidImage); got != http.StatusBadRequest {
		t.Errorf("statusFor(ErrInvalidImage) = %d", got)
	}
	if got := statusFor(labels.ErrInvalidVectorLength); got != http.StatusInternalServerError {
		t.Errorf("statusFor(ErrInvalidVectorLength) = %d", got)
	}
}
