package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/hospitaldesk/internal/handlers/render"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/service/user"
)

type userService interface {
	CreateUser(ctx context.Context, params user.CreateUserParams) (models.User, error)
	Account(ctx context.Context, userID int64) (user.Account, error)
	SetActive(ctx context.Context, userID int64, active bool) error
}

// Staff accounts administration
type UserHandler struct {
	users userService
}

func NewUser(users userService) *UserHandler {
	return &UserHandler{users: users}
}

type accountResponse struct {
	userResponse
	IsActive bool `json:"isActive"`
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	type CreateUserRequest struct {
		Username string   `json:"username" validate:"required,max=100"`
		Password string   `json:"password" validate:"required,min=8,max=200"`
		FullName string   `json:"fullName" validate:"max=200"`
		Contact  string   `json:"contact" validate:"max=20"`
		Email    string   `json:"email" validate:"omitempty,email"`
		Roles    []string `json:"roles" validate:"required,min=1,dive,required"`
	}

	data, err := render.BindAndValidate[CreateUserRequest](w, r)
	if err != nil {
		return
	}

	created, err := h.users.CreateUser(r.Context(), user.CreateUserParams{
		Username: data.Username,
		Password: data.Password,
		FullName: data.FullName,
		Contact:  data.Contact,
		Email:    data.Email,
		Roles:    data.Roles,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSONWithStatus(w, accountResponse{
		userResponse: newUserResponse(created, data.Roles),
		IsActive:     created.IsActive,
	}, http.StatusCreated)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	account, err := h.users.Account(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, accountResponse{
		userResponse: newUserResponse(account.User, account.Roles),
		IsActive:     account.IsActive,
	})
}

// SetActive enables or disables login; sessions of disabled user stop refreshing
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	data, err := render.BindAndValidate[activeRequest](w, r)
	if err != nil {
		return
	}

	if err := h.users.SetActive(r.Context(), userID, *data.IsActive); err != nil {
		writeError(w, r, err)
		return
	}

	render.JSON(w, successResponse{Success: true})
}
