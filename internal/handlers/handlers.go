package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/Brownie44l1/tsr-api/internal/labels"
	"github.com/Brownie44l1/tsr-api/internal/log"
	"github.com/Brownie44l1/tsr-api/internal/pipeline"
	"github.com/Brownie44l1/tsr-api/internal/tensor"
)

const maxTopK = labels.Count

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	ID string `json:"id"`
	*labels.Prediction
	Top []labels.Prediction `json:"top,omitempty"`
}

type Handler struct {
	pipeline       *pipeline.Pipeline
	maxUploadBytes int64
}

func NewHandler(p *pipeline.Pipeline, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		pipeline:       p,
		maxUploadBytes: maxUploadBytes,
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/health", EnableCORS(h.Health))
	mux.HandleFunc("/labels", EnableCORS(h.Labels))
	mux.HandleFunc("/predict", EnableCORS(h.Predict))
	mux.HandleFunc("/predict/image", EnableCORS(h.PredictFromImage))
}

func EnableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Labels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"labels": h.pipeline.Table().Names()})
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := uuid.NewString()
	logger := log.With("request_id", id, "path", r.URL.Path)

	top, err := topK(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	var req PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if want := h.pipeline.InputLen(); len(req.Image) != want {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Expected %d values, got %d", want, len(req.Image)))
		return
	}

	scores, pred, err := h.pipeline.ClassifyTensor(req.Image)
	h.respond(w, logger, id, scores, pred, top, err)
}

func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := uuid.NewString()
	logger := log.With("request_id", id, "path", r.URL.Path)

	top, err := topK(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name")
		return
	}
	defer file.Close()

	logger.Debug("received file", "filename", header.Filename, "bytes", header.Size)

	img, format, err := image.Decode(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, GIF, BMP, TIFF, WebP")
		return
	}

	logger.Debug("decoded image", "format", format, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	scores, pred, err := h.pipeline.Infer(img)
	h.respond(w, logger, id, scores, pred, top, err)
}

func (h *Handler) respond(w http.ResponseWriter, logger *slog.Logger, id string, scores []float32, pred *labels.Prediction, top int, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("prediction failed", "err", err)
			writeError(w, status, "Prediction failed")
			return
		}
		logger.Warn("rejected input", "err", err)
		writeError(w, status, err.Error())
		return
	}

	resp := PredictionResponse{ID: id, Prediction: pred}
	if top > 0 {
		resp.Top, err = h.pipeline.Table().TopK(scores, top)
		if err != nil {
			logger.Error("top-k failed", "err", err)
			writeError(w, http.StatusInternalServerError, "Prediction failed")
			return
		}
	}

	logger.Info("prediction", "label", pred.Label, "index", pred.Index, "score", pred.Score)
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, tensor.ErrInvalidImage), errors.Is(err, pipeline.ErrInvalidTensor):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func topK(r *http.Request) (int, error) {
	v := r.URL.Query().Get("top")
	if v == "" {
		return 0, nil
	}
	k, err := strconv.Atoi(v)
	if err != nil || k < 0 || k > maxTopK {
		return 0, fmt.Errorf("top must be an integer between 0 and %d", maxTopK)
	}
	return k, nil
}
