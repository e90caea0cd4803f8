package player

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sendrec/cueplayer/internal/auth"
	"github.com/sendrec/cueplayer/internal/cuepoint"
	"github.com/sendrec/cueplayer/internal/geoip"
	"github.com/sendrec/cueplayer/internal/httputil"
	"github.com/sendrec/cueplayer/internal/transcript"
	"github.com/sendrec/cueplayer/internal/validate"
)

// TrackURLExpiry is how long a signed <track> URL stays valid.
const TrackURLExpiry = time.Hour

// TranscriptStore keeps the VTT documents in object storage.
// *transcript.StorageSource satisfies it.
type TranscriptStore interface {
	Store(ctx context.Context, language string, data []byte) ([]transcript.Cue, error)
	TrackURL(ctx context.Context, language string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, language string) error
}

type Handler struct {
	manager     *Manager
	auth        *auth.Authenticator
	transcripts TranscriptStore
	geo         *geoip.Resolver
}

func NewHandler(manager *Manager, authenticator *auth.Authenticator, transcripts TranscriptStore, geo *geoip.Resolver) *Handler {
	return &Handler{manager: manager, auth: authenticator, transcripts: transcripts, geo: geo}
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	s, ok := h.manager.Get(chi.URLParam(r, "id"))
	if !ok {
		httputil.WriteError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionClosed):
		httputil.WriteError(w, http.StatusGone, "session closed")
	case errors.Is(err, cuepoint.ErrInvalidCuepoint),
		errors.Is(err, ErrInvalidControl),
		errors.Is(err, ErrInvalidVideoID),
		errors.Is(err, ErrUnknownTrack):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnsupportedLanguage), errors.Is(err, transcript.ErrUnknownLanguage):
		httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
	case errors.Is(err, cuepoint.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "cuepoint not found")
	case errors.Is(err, transcript.ErrCueOutOfRange):
		httputil.WriteError(w, http.StatusNotFound, "transcript cue not found")
	case errors.Is(err, ErrCuepointLimit):
		httputil.WriteError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("player: request failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

type createSessionRequest struct {
	VideoID  string `json:"videoId"`
	Language string `json:"language"`
}

type createSessionResponse struct {
	ID       string   `json:"id"`
	Token    string   `json:"token"`
	Language string   `json:"language"`
	Session  Snapshot `json:"session"`
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	client := ParseClient(r.UserAgent(), h.geo.Locate(httputil.ClientIP(r)))
	s, err := h.manager.Create(r.Context(), CreateOptions{
		VideoID:  req.VideoID,
		Language: req.Language,
		Client:   client,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}

	token, err := h.auth.Issue(s.ID())
	if err != nil {
		h.manager.Close(s.ID())
		slog.Error("player: failed to issue session token", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	snap := s.Snapshot()
	httputil.WriteJSON(w, http.StatusCreated, createSessionResponse{
		ID:       s.ID(),
		Token:    token,
		Language: snap.Transcript.Language,
		Session:  snap,
	})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.manager.Close(chi.URLParam(r, "id")) {
		httputil.WriteError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tickRequest struct {
	Track       string   `json:"track"`
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
	Paused      *bool    `json:"paused"`
}

func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req tickRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.CurrentTime == nil {
		httputil.WriteError(w, http.StatusBadRequest, "currentTime is required")
		return
	}
	if *req.CurrentTime < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "currentTime must not be negative")
		return
	}
	if req.Duration != nil && *req.Duration < 0 {
		httputil.WriteError(w, http.StatusBadRequest, "duration must not be negative")
		return
	}

	result, err := s.Tick(TickInput{
		Track:       req.Track,
		CurrentTime: *req.CurrentTime,
		Duration:    req.Duration,
		Paused:      req.Paused,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) ListCuepoints(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.Cuepoints())
}

type addCuepointRequest struct {
	Time    *float64 `json:"time"`
	Label   string   `json:"label"`
	Content string   `json:"content"`
}

func (h *Handler) AddCuepoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req addCuepointRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Time == nil {
		httputil.WriteError(w, http.StatusBadRequest, "time is required")
		return
	}

	c, err := s.AddCuepoint(r.Context(), *req.Time, req.Label, req.Content)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) EditCuepoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var changes cuepoint.Changes
	if !httputil.DecodeJSON(w, r, &changes) {
		return
	}

	c, err := s.EditCuepoint(r.Context(), chi.URLParam(r, "cuepointId"), changes)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCuepoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := s.RemoveCuepoint(r.Context(), chi.URLParam(r, "cuepointId")); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteCuepointAt(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	position, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid position")
		return
	}
	if _, err := s.RemoveCuepointAt(r.Context(), position); err != nil {
		writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SeekToCuepoint(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	controls, err := s.SeekToCuepoint(chi.URLParam(r, "cuepointId"))
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, controls)
}

type setLanguageRequest struct {
	Language string `json:"language"`
}

func (h *Handler) SetLanguage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req setLanguageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Language == "" {
		httputil.WriteError(w, http.StatusBadRequest, "language is required")
		return
	}

	view, err := s.SetLanguage(req.Language)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, view)
}

func (h *Handler) ReloadTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	view, err := s.ReloadTranscript()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, view)
}

func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s.Transcript())
}

func (h *Handler) SeekToCue(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid cue index")
		return
	}
	controls, err := s.SeekToCue(index)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, controls)
}

type visibilityRequest struct {
	Visible *bool `json:"visible"`
}

func (h *Handler) SetTranscriptVisibility(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req visibilityRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	view, err := s.SetTranscriptVisible(req.Visible)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type keyRequest struct {
	Key string `json:"key"`
}

func (h *Handler) Key(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req keyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	result, err := s.Key(req.Key)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type controlRequest struct {
	Track  string   `json:"track"`
	Action string   `json:"action"`
	Value  *float64 `json:"value"`
}

func (h *Handler) Control(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var req controlRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Value != nil && (math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0)) {
		httputil.WriteError(w, http.StatusBadRequest, "value must be finite")
		return
	}
	controls, err := s.ControlTrack(req.Track, req.Action, req.Value)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, controls)
}

// Limits reports the input limits the front end enforces before sending edits.
func (h *Handler) Limits(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, validate.FieldLimits())
}

func (h *Handler) Languages(w http.ResponseWriter, r *http.Request) {
	catalog := h.manager.Catalog()
	if catalog == nil {
		httputil.WriteJSON(w, http.StatusOK, []any{})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, catalog.Languages())
}

type uploadTranscriptResponse struct {
	Language string `json:"language"`
	Cues     int    `json:"cues"`
}

// UploadTranscript replaces a language's VTT file. Sessions pick it up on
// their next load of that language.
func (h *Handler) UploadTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		httputil.WriteError(w, http.StatusNotImplemented, "transcript uploads require object storage")
		return
	}
	language := chi.URLParam(r, "language")
	if catalog := h.manager.Catalog(); catalog != nil && !catalog.Supports(language) {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, validate.MaxTranscriptBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "transcript too large")
		return
	}

	cues, err := h.transcripts.Store(r.Context(), language, data)
	if err != nil {
		switch {
		case errors.Is(err, transcript.ErrInvalidTranscript):
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, transcript.ErrUnknownLanguage):
			httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
		default:
			slog.Error("player: transcript upload failed", "language", language, "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "failed to store transcript")
		}
		return
	}

	slog.Info("player: transcript uploaded", "language", language, "cues", len(cues))
	httputil.WriteJSON(w, http.StatusOK, uploadTranscriptResponse{Language: language, Cues: len(cues)})
}

// DeleteTranscript removes a language's VTT file from object storage.
func (h *Handler) DeleteTranscript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		httputil.WriteError(w, http.StatusNotImplemented, "transcript deletes require object storage")
		return
	}
	language := chi.URLParam(r, "language")
	if catalog := h.manager.Catalog(); catalog != nil && !catalog.Supports(language) {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	if err := h.transcripts.Delete(r.Context(), language); err != nil {
		if errors.Is(err, transcript.ErrUnknownLanguage) {
			httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		slog.Error("player: transcript delete failed", "language", language, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete transcript")
		return
	}

	slog.Info("player: transcript deleted", "language", language)
	w.WriteHeader(http.StatusNoContent)
}

type trackURLResponse struct {
	Language  string    `json:"language"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// TrackURL signs a short-lived URL the browser can use as a caption track.
func (h *Handler) TrackURL(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		httputil.WriteError(w, http.StatusNotImplemented, "track URLs require object storage")
		return
	}
	language := chi.URLParam(r, "language")
	if catalog := h.manager.Catalog(); catalog != nil && !catalog.Supports(language) {
		httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
		return
	}

	url, err := h.transcripts.TrackURL(r.Context(), language, TrackURLExpiry)
	if err != nil {
		if errors.Is(err, transcript.ErrUnknownLanguage) {
			httputil.WriteError(w, http.StatusBadRequest, "unsupported language")
			return
		}
		slog.Error("player: failed to sign track url", "language", language, "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, "failed to sign track url")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trackURLResponse{
		Language:  language,
		URL:       url,
		ExpiresAt: time.Now().Add(TrackURLExpiry).UTC(),
	})
}
