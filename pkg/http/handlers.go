package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"voicedash-server/pkg/errors"
	"voicedash-server/pkg/script"
	"voicedash-server/pkg/session"
)

// createSessionRequest optionally overrides the built-in scripts.
type createSessionRequest struct {
	Turns             []script.Turn              `json:"turns,omitempty"`
	SentimentTimeline []script.SentimentSnapshot `json:"sentiment_timeline,omitempty"`
}

// submitMessageRequest is the body for posting a user message.
type submitMessageRequest struct {
	Text string `json:"text"`
}

// muteRequest is the body for toggling the mute flag.
type muteRequest struct {
	Muted bool `json:"muted"`
}

// handleSessions serves /api/sessions: list on GET, create on POST.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, s.manager.ListSessions(), http.StatusOK)

	case http.MethodPost:
		var req createSessionRequest
		// An empty body means default scripts.
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			writeJSONError(w, errors.NewInvalidInput("invalid request body"), http.StatusBadRequest)
			return
		}
		for _, turn := range req.Turns {
			if turn.Speaker != script.SpeakerCustomer && turn.Speaker != script.SpeakerAI {
				writeJSONError(w, errors.NewInvalidInput("unknown speaker in turns", map[string]interface{}{
					"speaker": string(turn.Speaker),
				}), http.StatusBadRequest)
				return
			}
		}

		sess, err := s.manager.CreateSession(session.CreateOptions{
			Turns:    req.Turns,
			Timeline: req.SentimentTimeline,
		})
		if err != nil {
			s.ErrorResponse(w, err)
			return
		}

		s.logger.WithField("session_id", sess.ID).Info("Session created via API")
		writeJSONResponse(w, sess.Driver.Snapshot(), http.StatusCreated)

	default:
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
	}
}

// handleSessionSubtree routes /api/sessions/{id} and its subresources.
func (s *Server) handleSessionSubtree(w http.ResponseWriter, r *http.Request) {
	id, rest := splitSessionPath(r.URL.Path)
	if id == "" {
		writeJSONError(w, errors.New("invalid session ID"), http.StatusBadRequest)
		return
	}

	switch rest {
	case "":
		s.handleSession(w, r, id)
	case "messages":
		s.handleMessages(w, r, id)
	case "mute":
		s.handleMute(w, r, id)
	case "sentiment":
		s.handleSentiment(w, r, id)
	default:
		writeJSONError(w, errors.New("not found"), http.StatusNotFound)
	}
}

// handleSession serves one session: snapshot on GET, teardown on DELETE.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, err := s.manager.GetSession(id)
		if err != nil {
			s.ErrorResponse(w, err)
			return
		}
		writeJSONResponse(w, sess.Driver.Snapshot(), http.StatusOK)

	case http.MethodDelete:
		if err := s.manager.EndSession(id, "api"); err != nil {
			s.ErrorResponse(w, err)
			return
		}
		s.logger.WithField("session_id", id).Info("Session ended via API")
		w.WriteHeader(http.StatusNoContent)

	default:
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
	}
}

// handleMessages accepts a user-submitted message for the session.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.manager.GetSession(id)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.NewInvalidInput("invalid request body"), http.StatusBadRequest)
		return
	}

	view, err := sess.Driver.SubmitUserMessage(req.Text)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"session_id": id,
		"message_id": view.ID,
	}).Debug("User message accepted")
	writeJSONResponse(w, view, http.StatusCreated)
}

// handleMute toggles the session's mute flag.
func (s *Server) handleMute(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.manager.GetSession(id)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, errors.NewInvalidInput("invalid request body"), http.StatusBadRequest)
		return
	}

	sess.Driver.SetMuted(req.Muted)
	writeJSONResponse(w, map[string]bool{"muted": sess.Driver.Muted()}, http.StatusOK)
}

// handleSentiment returns the current sentiment state and trailing history.
func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeJSONError(w, errors.New("method not allowed"), http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.manager.GetSession(id)
	if err != nil {
		s.ErrorResponse(w, err)
		return
	}

	writeJSONResponse(w, sess.Tracker.Current(), http.StatusOK)
}

// splitSessionPath splits /api/sessions/{id}[/rest] into id and rest.
func splitSessionPath(path string) (string, string) {
	trimmed := strings.Trim(strings.TrimPrefix(path, "/api/sessions"), "/")
	if trimmed == "" {
		return "", ""
	}
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// writeJSONResponse writes a JSON response
func writeJSONResponse(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeJSONError writes a JSON error response
func writeJSONError(w http.ResponseWriter, err error, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]interface{}{
		"error": err.Error(),
		"code":  statusCode,
	}
	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		logrus.WithError(encErr).Error("Failed to encode JSON error response")
	}
}
