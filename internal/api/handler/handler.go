package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/propelai/propelai-backend/internal/api/middleware"
	"github.com/propelai/propelai-backend/internal/auth"
	"github.com/propelai/propelai-backend/internal/auth/ratelimit"
	"github.com/propelai/propelai-backend/internal/generation"
	"github.com/propelai/propelai-backend/internal/store"
	apperrors "github.com/propelai/propelai-backend/pkg/errors"
	"github.com/propelai/propelai-backend/pkg/logger"
)

const maxBodyBytes = 2 << 20

// Generator runs generations for the two request paths.
type Generator interface {
	FromContent(ctx context.Context, req generation.ContentRequest) (*generation.Outcome, error)
	FromPrompt(ctx context.Context, req generation.PromptRequest) (*generation.Outcome, error)
}

// Accounts signs users up and in.
type Accounts interface {
	Signup(ctx context.Context, req auth.SignupRequest) (*auth.Session, error)
	Login(ctx context.Context, req auth.LoginRequest) (*auth.Session, error)
}

// Handler implements the service's HTTP endpoints.
type Handler struct {
	generator Generator
	accounts  Accounts
	ideas     store.IdeaStore
	clients   ratelimit.Limiter
	logger    *slog.Logger
}

// New creates a Handler. clients rate-limits /generate per extension client
// id and may be nil.
func New(gen Generator, accounts Accounts, ideas store.IdeaStore, clients ratelimit.Limiter) *Handler {
	return &Handler{
		generator: gen,
		accounts:  accounts,
		ideas:     ideas,
		clients:   clients,
		logger:    slog.Default().With("component", "api-handler"),
	}
}

// ---------- Generation ----------

type contentRequest struct {
	URL         string `json:"url"`
	TextContent string `json:"text_content"`
	UserID      string `json:"user_id"`
}

type ideaDTO struct {
	Name     string `json:"Name"`
	Problem  string `json:"Problem"`
	Solution string `json:"Solution"`
}

// GenerateFromContent is the extension endpoint: page text in, three ideas
// out.
func (h *Handler) GenerateFromContent(w http.ResponseWriter, r *http.Request) {
	var req contentRequest
	if !h.decode(w, r, &req) {
		return
	}
	if h.clients != nil && req.UserID != "" && !h.clients.Allow(r.Context(), "client:"+req.UserID) {
		w.Header().Set("Retry-After", "60")
		h.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	out, err := h.generator.FromContent(r.Context(), generation.ContentRequest{
		URL:         req.URL,
		TextContent: req.TextContent,
		ClientID:    req.UserID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]ideaDTO, 0, len(out.Records))
	for _, rec := range out.Records {
		dtos = append(dtos, ideaDTO{Name: rec.Name, Problem: rec.Problem, Solution: rec.Solution})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": fmt.Sprintf("Success! %d credits remaining.", out.CreditsRemaining),
		"ideas":   dtos,
	})
}

type promptRequest struct {
	Prompt string `json:"prompt"`
	Tone   string `json:"tone"`
	Mode   string `json:"mode"`
}

type storedDTO struct {
	ID     int64  `json:"id"`
	Result string `json:"result"`
}

// GenerateFromPrompt is the dashboard endpoint for brainstorm and analysis.
func (h *Handler) GenerateFromPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !h.decode(w, r, &req) {
		return
	}
	u := middleware.User(r.Context())
	out, err := h.generator.FromPrompt(r.Context(), generation.PromptRequest{
		UserID: u.ID,
		Prompt: req.Prompt,
		Tone:   req.Tone,
		Mode:   req.Mode,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]storedDTO, 0, len(out.Stored))
	for _, idea := range out.Stored {
		dtos = append(dtos, storedDTO{ID: idea.ID, Result: idea.Result})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "success",
		"mode":              out.Mode,
		"ideas":             dtos,
		"credits_remaining": out.CreditsRemaining,
	})
}

// ---------- History ----------

// History lists the caller's ideas newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	u := middleware.User(r.Context())
	ideas, err := h.ideas.ListIdeas(r.Context(), u.ID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ideas == nil {
		ideas = []store.Idea{}
	}
	h.writeJSON(w, http.StatusOK, ideas)
}

func (h *Handler) ToggleStar(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaID(w, r)
	if !ok {
		return
	}
	idea, err := h.ideas.ToggleStar(r.Context(), id, middleware.User(r.Context()).ID)
	if err != nil {
		h.fail(w, r, ideaErr(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "success", "is_starred": idea.IsStarred})
}

func (h *Handler) DeleteIdea(w http.ResponseWriter, r *http.Request) {
	id, ok := h.ideaID(w, r)
	if !ok {
		return
	}
	if err := h.ideas.DeleteIdea(r.Context(), id, middleware.User(r.Context()).ID); err != nil {
		h.fail(w, r, ideaErr(err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Idea deleted"})
}

func (h *Handler) ideaID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "idea id must be a positive integer")
		return 0, false
	}
	return id, true
}

func ideaErr(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.New(apperrors.ErrNotFound, http.StatusNotFound, "Idea not found")
	}
	return err
}

// ---------- Accounts ----------

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.accounts.Signup(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	sess, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// Me returns the caller's profile.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, auth.NewProfile(middleware.User(r.Context())))
}

// ---------- Misc ----------

func (h *Handler) Greeting(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Hello from PropelAI Backend!"})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "PropelAI"})
}

// ---------- Helpers ----------

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			h.writeError(w, http.StatusBadRequest, "request body is required")
		default:
			h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		}
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
