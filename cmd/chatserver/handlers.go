package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fechatter/fechatter/internal/apperr"
	"github.com/fechatter/fechatter/internal/auth"
	"github.com/fechatter/fechatter/internal/chat"
	"github.com/fechatter/fechatter/internal/eventpub"
	"github.com/fechatter/fechatter/internal/httputil"
	"github.com/fechatter/fechatter/internal/message"
	"github.com/fechatter/fechatter/internal/user"
	"github.com/fechatter/fechatter/internal/workspace"
)

const refreshCookieName = "refresh_token"

// userDTO is the wire shape for a user embedded in auth responses.
type userDTO struct {
	ID          int64  `json:"id"`
	WorkspaceID int64  `json:"workspace_id"`
	Email       string `json:"email"`
	Fullname    string `json:"fullname"`
	Status      string `json:"status"`
}

func toUserDTO(u user.User) userDTO {
	return userDTO{ID: u.ID, WorkspaceID: u.WorkspaceID, Email: u.Email, Fullname: u.Fullname, Status: u.Status}
}

// authContextFromRequest captures the user-agent/IP a refresh token is bound
// to at issuance or compared against on refresh.
func authContextFromRequest(r *http.Request) auth.AuthContext {
	return auth.AuthContext{UserAgent: r.UserAgent(), IP: httputil.ClientIP(r)}
}

type authResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	User         userDTO `json:"user"`
}

func (s *server) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/api",
		HttpOnly: true,
		Secure:   !s.cfg.IsDevelopment(),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Now().Add(s.cfg.RefreshTokenAbsoluteTTL),
	})
}

func (s *server) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/api",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

type signupRequest struct {
	Fullname  string `json:"fullname"`
	Email     string `json:"email"`
	Workspace string `json:"workspace"`
	Password  string `json:"password"`
}

// handleSignup resolves the named workspace (creating it if this is the
// first signup against that name), registers the user within it, and makes
// them the workspace owner if none is set yet.
func (s *server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Fail(w, err)
		return
	}

	wsName, err := workspace.ValidateName(req.Workspace)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	ws, err := s.workspaceRepo.FindOrCreateByName(r.Context(), wsName)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	result, err := s.authService.Register(r.Context(), auth.RegisterRequest{
		WorkspaceID: ws.ID,
		Email:       req.Email,
		Fullname:    req.Fullname,
		Password:    req.Password,
		AuthContext: authContextFromRequest(r),
	})
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	if err := s.workspaceRepo.SetOwnerIfUnset(r.Context(), ws.ID, result.User.ID); err != nil {
		s.log.Warn().Err(err).Int64("workspace_id", ws.ID).Msg("failed to set workspace owner after signup")
	}

	s.setRefreshCookie(w, result.RefreshToken)
	httputil.JSON(w, http.StatusCreated, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserDTO(result.User),
	})
}

type signinRequest struct {
	Workspace string `json:"workspace"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// handleSignin resolves the workspace by name, the same way signup does,
// then authenticates the email/password pair within it.
func (s *server) handleSignin(w http.ResponseWriter, r *http.Request) {
	var req signinRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Fail(w, err)
		return
	}

	ws, err := s.workspaceRepo.FindOrCreateByName(r.Context(), req.Workspace)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	result, err := s.authService.Login(r.Context(), auth.LoginRequest{
		WorkspaceID: ws.ID,
		Email:       req.Email,
		Password:    req.Password,
		AuthContext: authContextFromRequest(r),
	})
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	s.setRefreshCookie(w, result.RefreshToken)
	httputil.JSON(w, http.StatusOK, authResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		User:         toUserDTO(result.User),
	})
}

// handleRefresh rotates the refresh token carried in the cookie set by
// signup/signin and issues a fresh access token.
func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "missing refresh token"))
		return
	}

	pair, err := s.authService.Refresh(r.Context(), cookie.Value, authContextFromRequest(r))
	if err != nil {
		s.clearRefreshCookie(w)
		failDomain(w, s.logErr(r), err)
		return
	}

	s.setRefreshCookie(w, pair.RefreshToken)
	httputil.JSON(w, http.StatusOK, map[string]string{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
	})
}

// handleLogout revokes every refresh token for the authenticated user.
// Service.Logout revokes the entire token family, so this also serves
// logout-all.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}
	if err := s.authService.Logout(r.Context(), claims.UserID); err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	s.clearRefreshCookie(w)
	httputil.JSON(w, http.StatusNoContent, nil)
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}
	u, err := s.userRepo.GetByID(r.Context(), claims.UserID)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	httputil.JSON(w, http.StatusOK, toUserDTO(*u))
}

type createChatRequest struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	MemberIDs   []int64 `json:"member_ids"`
}

func (s *server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}

	var req createChatRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Fail(w, err)
		return
	}

	name, err := chat.ValidateName(req.Name)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	chatType := chat.Type(req.Type)
	members, err := chat.ProcessChatMembers(chatType, claims.UserID, req.MemberIDs)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	created, err := s.chatRepo.Create(r.Context(), chat.CreateParams{
		WorkspaceID: claims.WorkspaceID,
		CreatorID:   claims.UserID,
		Type:        chatType,
		Name:        name,
		Description: req.Description,
		MemberIDs:   members,
	})
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	httputil.JSON(w, http.StatusCreated, created)
}

func (s *server) handleListSidebar(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}
	chats, err := s.chatRepo.ListSidebarForUser(r.Context(), claims.UserID)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	httputil.JSON(w, http.StatusOK, chats)
}

func (s *server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, _ := auth.ChatIDFromContext(r.Context())

	limit := message.ClampLimit(atoiOrZero(r.URL.Query().Get("limit")))
	var lastID *int64
	if v := r.URL.Query().Get("last_id"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastID = &id
		}
	}

	msgs, err := s.messageRepo.List(r.Context(), chatID, lastID, limit)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	httputil.JSON(w, http.StatusOK, msgs)
}

type createMessageRequest struct {
	Content        string   `json:"content"`
	Files          []string `json:"files"`
	IdempotencyKey string   `json:"idempotency_key"`
}

// handleCreateMessage creates a message, publishes its domain/search/
// realtime events, and invalidates the chat's cached pages.
func (s *server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}
	chatID, _ := auth.ChatIDFromContext(r.Context())

	var req createMessageRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Fail(w, err)
		return
	}

	content, err := message.ValidateContent(req.Content)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	if err := message.ValidateFiles(req.Files); err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	idemKey, err := parseOrNewUUID(req.IdempotencyKey)
	if err != nil {
		httputil.Fail(w, apperr.Wrap(apperr.CodeValidation, "invalid idempotency_key", err))
		return
	}

	chatInfo, err := s.chatRepo.GetByID(r.Context(), chatID)
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	msg, replayed, err := s.messageRepo.Create(r.Context(), message.CreateParams{
		ChatID:         chatID,
		SenderID:       claims.UserID,
		Content:        content,
		Files:          req.Files,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}

	if replayed {
		s.publisher.DuplicateMessageAttempted(chatID, msg.ID, claims.UserID)
		httputil.JSON(w, http.StatusOK, msg)
		return
	}

	members, err := s.chatRepo.ListMembers(r.Context(), chatID)
	if err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to list members for event fan-out")
	}
	recipients := make([]int64, 0, len(members))
	for _, m := range members {
		if m.LeftAt == nil {
			recipients = append(recipients, m.UserID)
		}
	}

	eventData := eventpub.MessageEventData{
		MessageID:   msg.ID,
		ChatID:      chatID,
		ChatName:    chatInfo.Name,
		WorkspaceID: claims.WorkspaceID,
		SenderID:    claims.UserID,
		SenderName:  claims.Fullname,
		Content:     msg.Content,
		Files:       msg.Files,
		CreatedAt:   msg.CreatedAt,
	}
	if err := s.publisher.MessageCreated(r.Context(), eventData, recipients); err != nil {
		s.log.Warn().Err(err).Int64("message_id", msg.ID).Msg("failed to publish message.created")
	}

	if err := s.invalidator.NewMessage(r.Context(), chatID, recipients, msg.CreatedAt); err != nil {
		s.log.Warn().Err(err).Int64("chat_id", chatID).Msg("failed to invalidate caches after new message")
	}

	httputil.JSON(w, http.StatusCreated, msg)
}

func (s *server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		httputil.Fail(w, apperr.New(apperr.CodeUnauthorized, "authentication required"))
		return
	}
	chatID, _ := auth.ChatIDFromContext(r.Context())

	messageID, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil {
		httputil.Fail(w, apperr.Wrap(apperr.CodeInvalidInput, "invalid message id", err))
		return
	}

	if err := s.messageRepo.MarkReadEnhanced(r.Context(), claims.UserID, chatID, messageID); err != nil {
		failDomain(w, s.logErr(r), err)
		return
	}
	s.publisher.MessageRead(chatID, claims.UserID, messageID)
	httputil.JSON(w, http.StatusNoContent, nil)
}

func (s *server) logErr(r *http.Request) func(error) {
	return func(err error) {
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("handler error")
	}
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func parseOrNewUUID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.New(), nil
	}
	return uuid.Parse(s)
}
