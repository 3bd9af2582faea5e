package ingress

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/harunnryd/inspect/internal/errors"
	"github.com/harunnryd/inspect/internal/publish"
	"github.com/harunnryd/inspect/internal/session"
)

type createSessionRequest struct {
	Title    string `json:"title"`
	Provider string `json:"provider"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.CreateSession(r.Context(), req.Title, session.RepoBinding{
		Provider: strings.ToLower(strings.TrimSpace(req.Provider)),
		Owner:    strings.TrimSpace(req.Owner),
		Name:     strings.TrimSpace(req.Name),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.ListSessions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []session.Session{}
	}
	writeJSON(w, http.StatusOK, list)
}

type sessionView struct {
	*session.Session
	Participants []session.Participant `json:"participants"`
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	wk, err := h.sessions.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, err := wk.GetSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	participants, err := wk.ListParticipants(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if participants == nil {
		participants = []session.Participant{}
	}
	writeJSON(w, http.StatusOK, sessionView{Session: s, Participants: participants})
}

type addParticipantRequest struct {
	UserID         string    `json:"user_id"`
	ProviderLogin  string    `json:"provider_login"`
	ProviderUserID string    `json:"provider_user_id"`
	AccessToken    string    `json:"access_token"`
	RefreshToken   string    `json:"refresh_token"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

func (h *Handler) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	var req addParticipantRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, r, apperrors.InvalidInput("user_id is required"))
		return
	}
	wk, err := h.sessions.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := &session.Participant{
		UserID:         req.UserID,
		ProviderLogin:  req.ProviderLogin,
		ProviderUserID: req.ProviderUserID,
		AccessToken:    req.AccessToken,
		RefreshToken:   req.RefreshToken,
		TokenExpiresAt: req.TokenExpiresAt,
	}
	if err := wk.AddParticipant(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

type enqueueRequest struct {
	AuthorID string `json:"author_id"`
	Content  string `json:"content"`
	Source   string `json:"source"`
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.pipeline.Enqueue(r.Context(), r.PathValue("id"), req.AuthorID, req.Content, req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	list, err := h.pipeline.List(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []session.Message{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleStartNext(w http.ResponseWriter, r *http.Request) {
	m, err := h.pipeline.StartNext(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) handleFinish(status session.MessageStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			m   *session.Message
			err error
		)
		if status == session.MessageDone {
			m, err = h.pipeline.Complete(r.Context(), r.PathValue("id"), r.PathValue("mid"))
		} else {
			m, err = h.pipeline.Fail(r.Context(), r.PathValue("id"), r.PathValue("mid"))
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (h *Handler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	wk, err := h.sessions.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := wk.ListArtifacts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []session.Artifact{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createPullRequestRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (h *Handler) handleCreatePullRequest(w http.ResponseWriter, r *http.Request) {
	var req createPullRequestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.publisher.CreatePullRequest(r.Context(), publish.Request{
		SessionID: r.PathValue("id"),
		Title:     req.Title,
		Body:      req.Body,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
