package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/verbly-ai/verbly/internal/capture"
	"github.com/verbly-ai/verbly/internal/conversation"
	"github.com/verbly-ai/verbly/internal/respond"
	"github.com/verbly-ai/verbly/internal/scenario"
	"github.com/verbly-ai/verbly/internal/store"
	"github.com/verbly-ai/verbly/internal/transcribe"
	"github.com/verbly-ai/verbly/pkg/audio"
)

// createSessionRequest starts a new session or resumes a persisted one.
// Resume is exclusive with the character/scenario pair.
type createSessionRequest struct {
	Character respond.Character   `json:"character"`
	Scenario  scenario.Descriptor `json:"scenario"`
	Resume    string              `json:"resume,omitempty"`
}

// audioSubmission is one finalized recording. PCM submissions carry raw
// int16 little-endian samples; Opus submissions carry the recorder's frame
// sequence, decoded server-side.
type audioSubmission struct {
	Codec      string   `json:"codec"` // "pcm" or "opus"
	SampleRate int      `json:"sample_rate,omitempty"`
	Channels   int      `json:"channels"`
	Data       []byte   `json:"data,omitempty"`
	Frames     [][]byte `json:"frames,omitempty"`
}

type autoListenRequest struct {
	Enabled bool `json:"enabled"`
}

type replayRequest struct {
	TurnIndex int `json:"turn_index"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}

	ls := s.sessions.create()
	if req.Resume != "" {
		snap, err := s.store.Load(r.Context(), req.Resume)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if err := ls.ctrl.Restore(snap); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	} else {
		if _, err := ls.ctrl.Start(r.Context(), req.Character, req.Scenario); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	s.sessions.register(ls)
	s.metrics.ActiveSessions.Add(r.Context(), 1)
	view, err := ls.ctrl.SessionView()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	view, err := ls.ctrl.SessionView()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		conversation.Session
		State conversation.State `json:"state"`
		Level int                `json:"level"`
	}{view, ls.ctrl.State(), ls.ctrl.Level()})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.sessions.get(id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.sessions.remove(id)
	s.metrics.ActiveSessions.Add(r.Context(), -1)
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitAudio runs one full turn: arm capture if needed, deliver the
// recording, then drive transcription, generation, synthesis, and playback.
func (s *Server) handleSubmitAudio(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	var sub audioSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding audio: %w", err))
		return
	}
	clip, err := decodeSubmission(sub)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if ls.ctrl.State() != conversation.StateListening {
		if err := ls.ctrl.StartListening(r.Context()); err != nil {
			writeControllerError(w, err)
			return
		}
	}
	if err := ls.dev.Deliver(clip); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err := ls.ctrl.StopListening(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}

	view, err := ls.ctrl.SessionView()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err := ls.ctrl.Reset(r.Context()); err != nil {
		writeControllerError(w, err)
		return
	}
	view, _ := ls.ctrl.SessionView()
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleAutoListen(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req autoListenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := ls.ctrl.SetAutoListen(req.Enabled); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	ls, err := s.sessions.get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))
		return
	}
	if err := ls.ctrl.Replay(r.Context(), req.TurnIndex); err != nil {
		writeControllerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	var presets []scenario.Preset
	if t := r.URL.Query().Get("tier"); t != "" {
		tier := scenario.Tier(t)
		if !tier.IsValid() {
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown tier %q", t))
			return
		}
		presets = s.catalog.ByTier(tier)
	} else {
		presets = s.catalog.All()
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": presets})
}

// decodeSubmission converts a submission into a clip, decoding Opus frames
// when needed.
func decodeSubmission(sub audioSubmission) (audio.Clip, error) {
	switch sub.Codec {
	case "pcm":
		if len(sub.Data) == 0 {
			return audio.Clip{}, errors.New("pcm submission without data")
		}
		if sub.SampleRate <= 0 || sub.Channels <= 0 {
			return audio.Clip{}, fmt.Errorf("invalid pcm format %d Hz / %d ch", sub.SampleRate, sub.Channels)
		}
		return audio.Clip{PCM: sub.Data, SampleRate: sub.SampleRate, Channels: sub.Channels}, nil

	case "opus":
		if len(sub.Frames) == 0 {
			return audio.Clip{}, errors.New("opus submission without frames")
		}
		dec, err := audio.NewOpusDecoder(sub.Channels)
		if err != nil {
			return audio.Clip{}, err
		}
		var pcm []byte
		for i, frame := range sub.Frames {
			out, err := dec.Decode(frame)
			if err != nil {
				return audio.Clip{}, fmt.Errorf("frame %d: %w", i, err)
			}
			pcm = append(pcm, out...)
		}
		return audio.Clip{PCM: pcm, SampleRate: dec.SampleRate(), Channels: dec.Channels()}, nil

	default:
		return audio.Clip{}, fmt.Errorf("unsupported codec %q", sub.Codec)
	}
}

// writeControllerError maps controller and pipeline errors to HTTP statuses.
func writeControllerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrNoSession), errors.Is(err, conversation.ErrNotListening):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, conversation.ErrBusy):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, conversation.ErrNotReplayable):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, capture.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
