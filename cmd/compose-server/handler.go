package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"github.com/jarrod-lowe/jmap-service-compose/internal/attachment"
	"github.com/jarrod-lowe/jmap-service-compose/internal/compose"
	"github.com/jarrod-lowe/jmap-service-compose/internal/composeerr"
	"github.com/jarrod-lowe/jmap-service-compose/internal/ids"
	"github.com/jarrod-lowe/jmap-service-compose/internal/message"
	"github.com/jarrod-lowe/jmap-service-compose/internal/session"
)

// ClientTokenHeader carries the client token of a mutating request.
const ClientTokenHeader = "X-Client-Token"

const maxJSONBody = 1 << 20

// Sessions hands out the sessions requests run in.
type Sessions interface {
	Start(ctx context.Context, accountID string) *compose.Session
	Get(id string) (*compose.Session, error)
	End(ctx context.Context, id string) error
}

// Composer runs composition space operations.
type Composer interface {
	Open(ctx context.Context, sess *compose.Session, p compose.OpenParams) (*compose.Space, error)
	Get(ctx context.Context, sess *compose.Session, id uuid.UUID) (*compose.Space, error)
	List(ctx context.Context, sess *compose.Session) ([]compose.Space, error)
	Update(ctx context.Context, sess *compose.Session, id uuid.UUID, d message.Description, token ids.ClientToken, lastModified int64) (*compose.Space, error)
	Close(ctx context.Context, sess *compose.Session, id uuid.UUID, token ids.ClientToken) error
	Transport(ctx context.Context, sess *compose.Session, id uuid.UUID, token ids.ClientToken) (string, error)
	SaveDraft(ctx context.Context, sess *compose.Session, id uuid.UUID, token ids.ClientToken, closeAfter bool) (ids.MailPath, error)
	AddAttachment(ctx context.Context, sess *compose.Session, spaceID uuid.UUID, token ids.ClientToken, data io.Reader, desc attachment.Description) (*attachment.Attachment, error)
	LinkAttachment(ctx context.Context, sess *compose.Session, spaceID uuid.UUID, token ids.ClientToken, ref string, desc attachment.Description) (*attachment.Attachment, error)
	OpenAttachment(ctx context.Context, sess *compose.Session, spaceID, attachmentID uuid.UUID) (*attachment.Attachment, io.ReadCloser, error)
	DeleteAttachment(ctx context.Context, sess *compose.Session, spaceID, attachmentID uuid.UUID, token ids.ClientToken) error
}

var (
	supportedLanguages = []language.Tag{language.English, language.German}
	languages          = language.NewMatcher(supportedLanguages)
)

// handler serves the composition space HTTP API. Attachment uploads larger
// than maxUpload bytes are refused; zero leaves them unbounded.
type handler struct {
	sessions  Sessions
	composer  Composer
	maxUpload int64
}

func newHandler(sessions Sessions, composer Composer, maxUpload int64) *handler {
	return &handler{sessions: sessions, composer: composer, maxUpload: maxUpload}
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", h.startSession)
	mux.HandleFunc("DELETE /sessions/{sid}", h.endSession)

	mux.HandleFunc("POST /sessions/{sid}/spaces", h.withSession(h.open))
	mux.HandleFunc("GET /sessions/{sid}/spaces", h.withSession(h.list))
	mux.HandleFunc("GET /sessions/{sid}/spaces/{id}", h.withSession(h.get))
	mux.HandleFunc("PATCH /sessions/{sid}/spaces/{id}", h.withSession(h.update))
	mux.HandleFunc("DELETE /sessions/{sid}/spaces/{id}", h.withSession(h.close))
	mux.HandleFunc("POST /sessions/{sid}/spaces/{id}/send", h.withSession(h.send))
	mux.HandleFunc("POST /sessions/{sid}/spaces/{id}/draft", h.withSession(h.saveDraft))
	mux.HandleFunc("POST /sessions/{sid}/spaces/{id}/attachments", h.withSession(h.addAttachment))
	mux.HandleFunc("POST /sessions/{sid}/spaces/{id}/attachments/link", h.withSession(h.linkAttachment))
	mux.HandleFunc("GET /sessions/{sid}/spaces/{id}/attachments/{aid}", h.withSession(h.getAttachment))
	mux.HandleFunc("DELETE /sessions/{sid}/spaces/{id}/attachments/{aid}", h.withSession(h.deleteAttachment))
	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *compose.Session)

func (h *handler) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := h.sessions.Get(r.PathValue("sid"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		next(w, r, sess)
	}
}

type startSessionRequest struct {
	AccountID string `json:"accountId"`
}

type sessionView struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.AccountID == "" {
		writeError(w, r, badRequest("accountId is required"))
		return
	}
	sess := h.sessions.Start(r.Context(), req.AccountID)
	writeJSON(w, http.StatusCreated, sessionView{ID: sess.ID, AccountID: sess.AccountID})
}

func (h *handler) endSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(r.Context(), r.PathValue("sid")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type openRequest struct {
	Type        string              `json:"type"`
	ReplyFor    *ids.MailPath       `json:"replyFor"`
	ForwardsFor []ids.MailPath      `json:"forwardsFor"`
	EditFor     *ids.MailPath       `json:"editFor"`
	Message     message.Description `json:"message"`
}

func (h *handler) open(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	token, err := clientToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := compose.OpenParams{
		ReplyFor:    req.ReplyFor,
		ForwardsFor: req.ForwardsFor,
		EditFor:     req.EditFor,
		Description: req.Message,
		ClientToken: token,
	}
	if req.Type != "" {
		t, ok := message.ParseMetaType(req.Type)
		if !ok {
			writeError(w, r, composeerr.InvalidIdentifier.New(req.Type))
			return
		}
		p.Type = t
	}
	space, err := h.composer.Open(r.Context(), sess, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSpaceView(space))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	spaces, err := h.composer.List(r.Context(), sess)
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]spaceView, 0, len(spaces))
	for i := range spaces {
		views = append(views, newSpaceView(&spaces[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) get(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, err := spaceID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	space, err := h.composer.Get(r.Context(), sess, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSpaceView(space))
}

type updateRequest struct {
	Message      message.Description `json:"message"`
	LastModified int64               `json:"lastModified"`

	// Attachments lists the attachments to keep. Absent leaves them alone.
	Attachments *[]string `json:"attachments"`
}

func (h *handler) update(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	d := req.Message
	if req.Attachments != nil {
		keep := make([]attachment.Attachment, 0, len(*req.Attachments))
		for _, s := range *req.Attachments {
			aid, err := ids.ParseAttachmentID(s)
			if err != nil {
				writeError(w, r, composeerr.InvalidIdentifier.Wrap(err, s))
				return
			}
			keep = append(keep, attachment.Attachment{ID: aid.UUID})
		}
		d.Attachments = message.Some(keep)
	}
	space, err := h.composer.Update(r.Context(), sess, id, d, token, req.LastModified)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSpaceView(space))
}

func (h *handler) close(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.composer.Close(r.Context(), sess, id, token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendView struct {
	MessageID string `json:"messageId"`
}

func (h *handler) send(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	messageID, err := h.composer.Transport(r.Context(), sess, id, token)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sendView{MessageID: messageID})
}

type draftView struct {
	Path ids.MailPath `json:"path"`
}

func (h *handler) saveDraft(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	closeAfter := false
	if v := r.URL.Query().Get("close"); v != "" {
		if closeAfter, err = strconv.ParseBool(v); err != nil {
			writeError(w, r, badRequest("close must be a boolean"))
			return
		}
	}
	path, err := h.composer.SaveDraft(r.Context(), sess, id, token, closeAfter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, draftView{Path: path})
}

func (h *handler) addAttachment(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	desc := attachment.Description{
		CompositionSpaceID: id,
		Name:               q.Get("name"),
		MimeType:           r.Header.Get("Content-Type"),
		ContentID:          attachment.ParseContentID(q.Get("contentId")),
		Disposition:        attachment.ParseDisposition(q.Get("disposition")),
		Origin:             attachment.ParseOrigin(q.Get("origin")),
		Size:               r.ContentLength,
	}
	if desc.Size < 0 {
		desc.Size = attachment.UnknownSize
	}
	body := r.Body
	if h.maxUpload > 0 {
		if desc.Size > h.maxUpload {
			writeError(w, r, composeerr.MaxMessageSizeExceeded.New(h.maxUpload))
			return
		}
		body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	a, err := h.composer.AddAttachment(r.Context(), sess, id, token, body, desc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttachmentView(a))
}

// linkRequest attaches a blob the account already holds. The blob's size
// is learned by reading it.
type linkRequest struct {
	BlobID      string `json:"blobId"`
	Name        string `json:"name"`
	MimeType    string `json:"mimeType"`
	ContentID   string `json:"contentId"`
	Disposition string `json:"disposition"`
	Origin      string `json:"origin"`
}

func (h *handler) linkAttachment(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, token, err := spaceAndToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req linkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.BlobID == "" {
		writeError(w, r, badRequest("blobId is required"))
		return
	}
	desc := attachment.Description{
		CompositionSpaceID: id,
		Name:               req.Name,
		MimeType:           req.MimeType,
		ContentID:          attachment.ParseContentID(req.ContentID),
		Disposition:        attachment.ParseDisposition(req.Disposition),
		Origin:             attachment.OriginDrive,
		Size:               attachment.UnknownSize,
	}
	if req.Origin != "" {
		desc.Origin = attachment.ParseOrigin(req.Origin)
	}
	a, err := h.composer.LinkAttachment(r.Context(), sess, id, token, req.BlobID, desc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttachmentView(a))
}

func (h *handler) getAttachment(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, aid, err := spaceAndAttachment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	a, body, err := h.composer.OpenAttachment(r.Context(), sess, id, aid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", a.MimeType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(string(a.Disposition), map[string]string{"filename": a.Name}))
	if a.SizeKnown() {
		w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		logger.WarnContext(r.Context(), "Failed to stream attachment",
			slog.String("attachment_id", aid.String()),
			slog.String("error", err.Error()))
	}
}

func (h *handler) deleteAttachment(w http.ResponseWriter, r *http.Request, sess *compose.Session) {
	id, aid, err := spaceAndAttachment(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := clientToken(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.composer.DeleteAttachment(r.Context(), sess, id, aid, token); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientToken(r *http.Request) (ids.ClientToken, error) {
	s := r.Header.Get(ClientTokenHeader)
	token, err := ids.ParseClientToken(s)
	if err != nil {
		return ids.NoClientToken, composeerr.InvalidIdentifier.Wrap(err, s)
	}
	return token, nil
}

func spaceID(r *http.Request) (uuid.UUID, error) {
	s := r.PathValue("id")
	id, err := ids.ParseCompositionSpaceID(s)
	if err != nil {
		return uuid.Nil, composeerr.InvalidIdentifier.Wrap(err, s)
	}
	return id.UUID, nil
}

func spaceAndToken(r *http.Request) (uuid.UUID, ids.ClientToken, error) {
	id, err := spaceID(r)
	if err != nil {
		return uuid.Nil, ids.NoClientToken, err
	}
	token, err := clientToken(r)
	return id, token, err
}

func spaceAndAttachment(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	id, err := spaceID(r)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	s := r.PathValue("aid")
	aid, err := ids.ParseAttachmentID(s)
	if err != nil {
		return uuid.Nil, uuid.Nil, composeerr.InvalidIdentifier.Wrap(err, s)
	}
	return id, aid.UUID, nil
}

type attachmentView struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Size        int64                `json:"size"`
	MimeType    string               `json:"mimeType"`
	ContentID   attachment.ContentID `json:"contentId,omitempty"`
	Disposition string               `json:"disposition"`
	Origin      string               `json:"origin"`
}

func newAttachmentView(a *attachment.Attachment) attachmentView {
	return attachmentView{
		ID:          ids.NewAttachmentID(compose.ServiceID, a.ID).String(),
		Name:        a.Name,
		Size:        a.Size,
		MimeType:    a.MimeType,
		ContentID:   a.ContentID,
		Disposition: string(a.Disposition),
		Origin:      string(a.Origin),
	}
}

type spaceView struct {
	ID           string           `json:"id"`
	ClientToken  string           `json:"clientToken,omitempty"`
	LastModified int64            `json:"lastModified"`
	Message      message.Message  `json:"message"`
	Attachments  []attachmentView `json:"attachments"`
}

func newSpaceView(s *compose.Space) spaceView {
	v := spaceView{
		ID:           s.PublicID().String(),
		ClientToken:  s.ClientToken.String(),
		LastModified: s.LastModified,
		Message:      s.Message,
		Attachments:  make([]attachmentView, 0, len(s.Message.Attachments)),
	}
	for i := range s.Message.Attachments {
		v.Attachments = append(v.Attachments, newAttachmentView(&s.Message.Attachments[i]))
	}
	v.Message.Attachments = nil
	return v
}

// apiError is the JSON body of a failed request.
type apiError struct {
	Code     string `json:"code"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Display  string `json:"display,omitempty"`
}

type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

func badRequest(msg string) error {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: " + err.Error())
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var re *requestError
	switch {
	case errors.As(err, &re):
		writeJSON(w, re.status, apiError{Code: "BAD_REQUEST", Category: string(composeerr.CategoryUserInput), Message: re.msg})
		return
	case errors.Is(err, session.ErrNotFound):
		writeJSON(w, http.StatusNotFound, apiError{Code: "SESSION_NOT_FOUND", Category: string(composeerr.CategoryUserInput), Message: err.Error()})
		return
	}

	var ce *composeerr.Error
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		ce = composeerr.MaxMessageSizeExceeded.Wrap(err, tooLarge.Limit)
	case !errors.As(err, &ce):
		ce = composeerr.Unexpected.Wrap(err, "request failed")
	}
	status := statusOf(ce.Code)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	_, i := language.MatchStrings(languages, r.Header.Get("Accept-Language"))
	writeJSON(w, status, apiError{
		Code:     ce.Code.String(),
		Category: string(ce.Code.Category),
		Message:  ce.Error(),
		Display:  ce.DisplayMessage(supportedLanguages[i]),
	})
}

func statusOf(c composeerr.Code) int {
	switch c.Number {
	case composeerr.NoSuchCompositionSpace.Number,
		composeerr.NoSuchAttachmentResource.Number,
		composeerr.NoSuchAttachmentInCompositionSpace.Number:
		return http.StatusNotFound
	case composeerr.ConcurrentUpdate.Number, composeerr.ClientTokenMismatch.Number:
		return http.StatusConflict
	case composeerr.MaxMessageSizeExceeded.Number:
		return http.StatusRequestEntityTooLarge
	}
	switch c.Category {
	case composeerr.CategoryUserInput:
		return http.StatusBadRequest
	case composeerr.CategoryWarning:
		return http.StatusUnprocessableEntity
	case composeerr.CategoryTryAgain:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
