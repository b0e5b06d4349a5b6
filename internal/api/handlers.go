package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nshfwz/forsaken-mail/internal/address"
	"github.com/nshfwz/forsaken-mail/internal/store"
	"github.com/nshfwz/forsaken-mail/internal/version"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type listResponse struct {
	Mailbox  string                 `json:"mailbox"`
	Email    string                 `json:"email"`
	Count    int                    `json:"count"`
	Messages []store.MessageSummary `json:"messages"`
}

type detailResponse struct {
	Mailbox string        `json:"mailbox"`
	Email   string        `json:"email"`
	Message store.Message `json:"message"`
}

type deleteResponse struct {
	Mailbox string `json:"mailbox"`
	Email   string `json:"email"`
	Deleted bool   `json:"deleted"`
}

type clearResponse struct {
	Mailbox string `json:"mailbox"`
	Email   string `json:"email"`
	Removed int    `json:"removed"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version})
}

func (s *Server) handleListByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing email query parameter")
		return
	}
	s.writeMessageList(w, email)
}

func (s *Server) handleGetByEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "missing email query parameter")
		return
	}
	s.writeMessageDetail(w, email, r.PathValue("id"))
}

func (s *Server) handleListByMailbox(w http.ResponseWriter, r *http.Request) {
	s.writeMessageList(w, r.PathValue("mailbox"))
}

func (s *Server) handleGetByMailbox(w http.ResponseWriter, r *http.Request) {
	s.writeMessageDetail(w, r.PathValue("mailbox"), r.PathValue("id"))
}

func (s *Server) handleDeleteByMailbox(w http.ResponseWriter, r *http.Request) {
	mailbox, email, err := address.NormalizeMailbox(r.PathValue("mailbox"), s.cfg.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing message id")
		return
	}

	deleted := s.store.Delete(mailbox, id)
	writeJSON(w, http.StatusOK, deleteResponse{Mailbox: mailbox, Email: email, Deleted: deleted})
}

func (s *Server) handleClearMailbox(w http.ResponseWriter, r *http.Request) {
	mailbox, email, err := address.NormalizeMailbox(r.PathValue("mailbox"), s.cfg.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	removed := s.store.Clear(mailbox)
	writeJSON(w, http.StatusOK, clearResponse{Mailbox: mailbox, Email: email, Removed: removed})
}

// handleNextEvent long-polls the store's event feed for the first event
// concerning the requested mailbox. The whole wait shares one budget;
// events for other mailboxes and lag signals spend it without ending the
// request.
func (s *Server) handleNextEvent(w http.ResponseWriter, r *http.Request) {
	mailbox, _, err := address.NormalizeMailbox(r.PathValue("mailbox"), s.cfg.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub := s.store.Subscribe()
	defer sub.Cancel()

	ctx, cancel := context.WithTimeout(r.Context(), s.pollTimeout)
	defer cancel()

	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			var lagged *store.LaggedError
			if errors.As(err, &lagged) {
				s.logger.Warn("event subscriber lagged", zap.Uint64("missed", lagged.Missed))
				continue
			}
			if errors.Is(err, store.ErrClosed) {
				writeError(w, http.StatusServiceUnavailable, "event stream closed")
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if ev.Mailbox == mailbox {
			writeJSON(w, http.StatusOK, ev)
			return
		}
	}
}

func (s *Server) writeMessageList(w http.ResponseWriter, mailboxInput string) {
	mailbox, email, err := address.NormalizeMailbox(mailboxInput, s.cfg.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages := s.store.List(mailbox)
	summaries := make([]store.MessageSummary, 0, len(messages))
	for i := range messages {
		summaries = append(summaries, messages[i].Summary())
	}

	writeJSON(w, http.StatusOK, listResponse{
		Mailbox:  mailbox,
		Email:    email,
		Count:    len(summaries),
		Messages: summaries,
	})
}

func (s *Server) writeMessageDetail(w http.ResponseWriter, mailboxInput, id string) {
	mailbox, email, err := address.NormalizeMailbox(mailboxInput, s.cfg.Domain)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing message id")
		return
	}

	msg, ok := s.store.Get(mailbox, id)
	if !ok {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	writeJSON(w, http.StatusOK, detailResponse{Mailbox: mailbox, Email: email, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
