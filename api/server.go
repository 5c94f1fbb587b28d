package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/fabfab/docqa-agent/chat"
	"github.com/fabfab/docqa-agent/index"
	"github.com/fabfab/docqa-agent/ingestion"
	"github.com/fabfab/docqa-agent/llm"
)

const maxUploadBytes = 64 << 20

type Ingester interface {
	Ingest(ctx context.Context, path string) ingestion.Report
}

type Answerer interface {
	Answer(ctx context.Context, question string) chat.Answer
	Context(ctx context.Context, question string) string
	FreeChat(ctx context.Context, question string) chat.Answer
}

type IndexInfo interface {
	Info() index.Info
}

type Dependencies struct {
	Ingester Ingester
	Answerer Answerer
	Index    IndexInfo
	History  *chat.History
	Metrics  http.Handler
}

// Server exposes HTTP handlers for ingestion and question answering.
type Server struct {
	deps    Dependencies
	logger  *log.Logger
	handler http.Handler
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type ingestRequest struct {
	Path string `json:"path"`
}

type ingestResponse struct {
	Message string `json:"message"`
	Records int    `json:"records"`
	Chunks  int    `json:"chunks"`
	OK      bool   `json:"ok"`
}

type questionRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer   string `json:"answer"`
	Grounded bool   `json:"grounded"`
	Context  string `json:"context"`
}

type historyResponse struct {
	Mode    chat.Mode     `json:"mode"`
	Entries []llm.Message `json:"entries"`
}

// New constructs a Server over the given services.
func New(deps Dependencies, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	if deps.History == nil {
		deps.History = chat.NewHistory()
	}

	s := &Server{deps: deps, logger: logger}
	s.handler = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/openapi.yaml", s.handleOpenAPI)
	mux.HandleFunc("/v1/ingest", s.handleIngest)
	mux.HandleFunc("/v1/ask", s.handleAsk)
	mux.HandleFunc("/v1/chat", s.handleChat)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/index", s.handleIndex)
	if s.deps.Metrics != nil {
		mux.Handle("/metrics", s.deps.Metrics)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, messageResponse{Message: "ok"})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	w.Header().Set("Content-Type", "text/yaml; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename=\"openapi.yaml\"")
	_, _ = w.Write(openAPISpecYAML)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		s.handleUpload(w, r)
		return
	}

	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	path := strings.TrimSpace(req.Path)
	if path == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("path is required"))
		return
	}

	s.writeReport(w, s.deps.Ingester.Ingest(r.Context(), path))
}

// handleUpload stores the multipart "file" part under its original name in a
// scratch directory and ingests it from there.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, ingestResponse{Message: fmt.Sprintf("Upload error: %v", err)})
		return
	}
	defer file.Close()

	dir, err := os.MkdirTemp("", "docqa-upload-*")
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, ingestResponse{Message: fmt.Sprintf("Upload error: %v", err)})
		return
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) {
		name = "upload"
	}
	path := filepath.Join(dir, name)

	if err := saveUpload(path, file); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ingestResponse{Message: fmt.Sprintf("Upload error: %v", err)})
		return
	}

	s.logger.Info("upload received", "file", name, "bytes", header.Size)
	s.writeReport(w, s.deps.Ingester.Ingest(r.Context(), path))
}

func saveUpload(path string, src io.Reader) error {
	dst, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

func (s *Server) writeReport(w http.ResponseWriter, report ingestion.Report) {
	status := http.StatusOK
	switch {
	case report.OK():
	case errors.Is(report.Err, ingestion.ErrUnsupportedFormat), errors.Is(report.Err, ingestion.ErrEmptyExtraction):
		status = http.StatusUnprocessableEntity
	case errors.Is(report.Err, ingestion.ErrReadFailure):
		status = http.StatusBadRequest
	default:
		status = http.StatusInternalServerError
	}

	s.writeJSON(w, status, ingestResponse{
		Message: report.Message,
		Records: report.Records,
		Chunks:  report.Chunks,
		OK:      report.OK(),
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	ctx := r.Context()
	answer := s.deps.Answerer.Answer(ctx, req.Question)
	resp := askResponse{Answer: answer.Text, Grounded: answer.Grounded}
	if strings.TrimSpace(req.Question) != "" {
		resp.Context = s.deps.Answerer.Context(ctx, req.Question)
		s.deps.History.Append(chat.ModeDocument, req.Question, chat.DocumentReply(answer.Text, resp.Context))
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var req questionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	answer := s.deps.Answerer.FreeChat(r.Context(), req.Question)
	if strings.TrimSpace(req.Question) != "" {
		s.deps.History.Append(chat.ModeFree, req.Question, answer.Text)
	}

	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	mode, err := chat.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusOK, historyResponse{Mode: mode, Entries: s.deps.History.Entries(mode)})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}

	s.writeJSON(w, http.StatusOK, s.deps.Index.Info())
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed, use %s", allowed))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("api error", "status", status, "err", err)
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}

	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}

	return nil
}
