package server

import (
	"ImagenStudio/internal/imagegen"
	"embed"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

//go:embed web/index.html
var webFS embed.FS

var indexTmpl = template.Must(template.ParseFS(webFS, "web/index.html"))

const maxBodyBytes = 64 << 10

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
	APIKey string `json:"apiKey"`
}

type generateResponse struct {
	Image     string         `json:"image"`
	Command   string         `json:"command"`
	APIKey    string         `json:"apiKey"`
	Model     imagegen.Model `json:"model"`
	ElapsedMs int64          `json:"elapsedMs"`
}

type errorResponse struct {
	Error string        `json:"error"`
	Kind  imagegen.Kind `json:"kind,omitempty"`
}

type modelsResponse struct {
	Models  []imagegen.ModelInfo `json:"models"`
	Default imagegen.Model       `json:"default"`
}

type indexData struct {
	Models  []imagegen.ModelInfo
	Default imagegen.Model
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := indexData{Models: imagegen.Catalog(), Default: s.deps.DefaultModel}
	if err := indexTmpl.Execute(w, data); err != nil {
		s.logger.Errorw("render index failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelsResponse{Models: imagegen.Catalog(), Default: s.deps.DefaultModel})
}

// handleGenerate stateless-вариант генерации для скриптов: один запрос, один вызов модели.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	reqID := uuid.NewString()
	w.Header().Set("X-Request-ID", reqID)

	var req generateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}
	if err := imagegen.ValidatePrompt(req.Prompt); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Kind: imagegen.KindValidation})
		return
	}

	model := s.resolveModel(req.Model)
	started := time.Now()
	res, err := s.deps.Generator.Generate(r.Context(), req.Prompt, model, req.APIKey)
	if err != nil {
		gerr := imagegen.Classify(err)
		s.logger.Warnw("API generation failed",
			"request_id", reqID,
			"model", model,
			"kind", gerr.Kind,
			"took", time.Since(started).String(),
		)
		writeJSON(w, statusFor(gerr.Kind), errorResponse{Error: gerr.Message, Kind: gerr.Kind})
		return
	}

	s.logger.Infow("API generation completed", "request_id", reqID, "model", res.Model, "took", time.Since(started).String())
	writeJSON(w, http.StatusOK, generateResponse{
		Image:     res.ImageURL,
		Command:   res.Command,
		APIKey:    s.deps.KeyPolicy.Visible(res.APIKey),
		Model:     res.Model,
		ElapsedMs: res.Elapsed.Milliseconds(),
	})
}

// resolveModel: пусто, значит модель по умолчанию; алиасы разворачиваются; неизвестное значение
// уходит в клиент как есть и там получает configuration.
func (s *Server) resolveModel(raw string) imagegen.Model {
	if raw == "" {
		return s.deps.DefaultModel
	}
	if m, ok := imagegen.ParseModel(raw); ok {
		return m
	}
	return imagegen.Model(raw)
}

func statusFor(kind imagegen.Kind) int {
	switch kind {
	case imagegen.KindValidation, imagegen.KindConfiguration, imagegen.KindBadRequest:
		return http.StatusBadRequest
	case imagegen.KindAuthInvalid:
		return http.StatusUnauthorized
	case imagegen.KindAuthDenied:
		return http.StatusForbidden
	case imagegen.KindQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
