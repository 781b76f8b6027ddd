package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/middleware"
	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/handlers/userctx"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth"
)

const defaultHistoryPageSize = 20

type authService interface {
	Login(ctx context.Context, p auth.LoginParams) (auth.LoginResult, error)
	Refresh(ctx context.Context, access string, refresh string) (auth.RefreshResult, error)

	// Ending ended session returns false without error
	Logout(ctx context.Context, userID int64, sessionID int64, reason string) (bool, error)
	TerminateSession(ctx context.Context, userID int64, sessionID int64) (bool, error)
	LogoutAll(ctx context.Context, userID int64) (int64, error)

	ResetPassword(ctx context.Context, userID int64, code string, password string, confirm string) error
	ChangePassword(ctx context.Context, userID int64, oldPassword string, newPassword string) error

	Me(ctx context.Context, userID int64) (models.User, []string, error)
	Sessions(ctx context.Context, userID int64) ([]models.Session, error)
	LoginHistory(ctx context.Context, userID int64, page int, pageSize int) (models.SessionPage, error)
}

type AuthHandler struct {
	auth authService
}

func NewAuth(auth authService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type userResponse struct {
	UserID            int64    `json:"userId"`
	Username          string   `json:"username"`
	FullName          string   `json:"fullName"`
	Email             string   `json:"email"`
	Contact           string   `json:"contact"`
	IsContactVerified bool     `json:"isContactVerified"`
	IsEmailVerified   bool     `json:"isEmailVerified"`
	Roles             []string `json:"roles"`
}

func newUserResponse(u models.User, roles []string) userResponse {
	if roles == nil {
		roles = []string{}
	}

	return userResponse{
		UserID:            u.ID,
		Username:          u.Username,
		FullName:          u.FullName,
		Email:             u.Email,
		Contact:           u.Contact,
		IsContactVerified: u.IsContactVerified,
		IsEmailVerified:   u.IsEmailVerified,
		Roles:             roles,
	}
}

type tokensResponse struct {
	SessionID    int64  `json:"sessionId"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int    `json:"expiresIn"` // seconds
}

type sessionResponse struct {
	SessionID        int64                `json:"sessionId"`
	BranchID         int64                `json:"branchId"`
	Status           models.SessionStatus `json:"status"`
	LoginInfo        models.LoginInfo     `json:"loginInfo"`
	LoginTime        time.Time            `json:"loginTime"`
	LastActivityTime time.Time            `json:"lastActivityTime"`
	LogoutTime       *time.Time           `json:"logoutTime,omitempty"`
	LogoutReason     *string              `json:"logoutReason,omitempty"`
}

func newSessionsResponse(sessions []models.Session) []sessionResponse {
	res := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		res = append(res, sessionResponse{
			SessionID:        s.ID,
			BranchID:         s.BranchID,
			Status:           s.Status,
			LoginInfo:        s.LoginInfo,
			LoginTime:        s.LoginTime,
			LastActivityTime: s.LastActivityTime,
			LogoutTime:       s.LogoutTime,
			LogoutReason:     s.LogoutReason,
		})
	}
	return res
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		BranchID int64  `json:"branchId" validate:"required,gt=0"`
		Username string `json:"username" validate:"required,max=100"`
		Password string `json:"password" validate:"required,max=200"`
	}
	type LoginResponse struct {
		userResponse
		tokensResponse
		BranchID  int64            `json:"branchId"`
		LoginInfo models.LoginInfo `json:"loginInfo"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	res, err := h.auth.Login(r.Context(), auth.LoginParams{
		BranchID:  data.BranchID,
		Username:  data.Username,
		Password:  data.Password,
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, LoginResponse{
		userResponse: newUserResponse(res.User, res.Roles),
		tokensResponse: tokensResponse{
			SessionID:    res.SessionID,
			AccessToken:  res.Tokens.Access.Value,
			RefreshToken: res.Tokens.Refresh.Value,
			TokenType:    res.TokenType,
			ExpiresIn:    int(res.ExpiresIn.Seconds()),
		},
		BranchID:  res.BranchID,
		LoginInfo: res.LoginInfo,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		AccessToken  string `json:"accessToken" validate:"required"`
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	res, err := h.auth.Refresh(r.Context(), data.AccessToken, data.RefreshToken)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, tokensResponse{
		SessionID:    res.SessionID,
		AccessToken:  res.Tokens.Access.Value,
		RefreshToken: res.Tokens.Refresh.Value,
		TokenType:    res.TokenType,
		ExpiresIn:    int(res.ExpiresIn.Seconds()),
	})
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	type LogoutRequest struct {
		SessionID int64  `json:"sessionId" validate:"required,gt=0"`
		Reason    string `json:"reason" validate:"max=200"`
	}

	identity := mustIdentity(r)
	data, err := render.BindAndValidate[LogoutRequest](w, r)
	if err != nil {
		return
	}

	ok, err := h.auth.Logout(r.Context(), identity.UserID, data.SessionID, data.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, successResponse{Success: ok})
}

func (h *AuthHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)
	sessionID, ok := pathID(w, r, "sessionID")
	if !ok {
		return
	}

	ended, err := h.auth.TerminateSession(r.Context(), identity.UserID, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, successResponse{Success: ended})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	type LogoutAllResponse struct {
		EndedSessions int64 `json:"endedSessions"`
	}

	identity := mustIdentity(r)
	ended, err := h.auth.LogoutAll(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, LogoutAllResponse{EndedSessions: ended})
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)
	sessions, err := h.auth.Sessions(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, newSessionsResponse(sessions))
}

func (h *AuthHandler) LoginHistory(w http.ResponseWriter, r *http.Request) {
	type HistoryResponse struct {
		Items    []sessionResponse `json:"items"`
		Total    int64             `json:"total"`
		Page     int               `json:"page"`
		PageSize int               `json:"pageSize"`
	}

	identity := mustIdentity(r)

	page, ok := queryInt(w, r, "page", 1)
	if !ok {
		return
	}
	pageSize, ok := queryInt(w, r, "pageSize", defaultHistoryPageSize)
	if !ok {
		return
	}

	history, err := h.auth.LoginHistory(r.Context(), identity.UserID, page, pageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, HistoryResponse{
		Items:    newSessionsResponse(history.Items),
		Total:    history.Total,
		Page:     history.Page,
		PageSize: history.PageSize,
	})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity := mustIdentity(r)
	user, roles, err := h.auth.Me(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, newUserResponse(user, roles))
}

type messageResponse struct {
	Message string `json:"message"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	type ResetRequest struct {
		UserID          int64  `json:"userId" validate:"required,gt=0"`
		Otp             string `json:"otp" validate:"required,otp"`
		NewPassword     string `json:"newPassword" validate:"required,min=8,max=200"`
		ConfirmPassword string `json:"confirmPassword" validate:"required"`
	}

	data, err := render.BindAndValidate[ResetRequest](w, r)
	if err != nil {
		return
	}

	err = h.auth.ResetPassword(r.Context(), data.UserID, data.Otp, data.NewPassword, data.ConfirmPassword)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, messageResponse{Message: "Password reset successfully"})
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	type ChangeRequest struct {
		OldPassword string `json:"oldPassword" validate:"required"`
		NewPassword string `json:"newPassword" validate:"required,min=8,max=200"`
	}

	identity := mustIdentity(r)
	data, err := render.BindAndValidate[ChangeRequest](w, r)
	if err != nil {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), identity.UserID, data.OldPassword, data.NewPassword); err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, messageResponse{Message: "Password changed successfully"})
}

// Identity is always set on routes behind middleware.Auth
func mustIdentity(r *http.Request) models.Identity {
	identity, ok := userctx.FromContext(r.Context())
	if !ok {
		panic("handler is mounted without auth middleware")
	}
	return identity
}

// Positive int64 path parameter. On failure response is written
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		render.ServiceError(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// Optional positive int query parameter. On failure response is written
func queryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		render.ServiceError(w, "Invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return v, true
}
