package user

import (
	"context"
	"fmt"
	"strings"

	"github.com/nkiryanov/hospitaldesk/internal/apperrors"
	"github.com/nkiryanov/hospitaldesk/internal/models"
	"github.com/nkiryanov/hospitaldesk/internal/repository"
	"github.com/nkiryanov/hospitaldesk/internal/service/auth"
)

type CreateUserParams struct {
	Username string
	Password string
	FullName string
	Contact  string
	Email    string

	// Role names to assign, every role must exist
	Roles []string
}

// Provisioning of user accounts
type UserService struct {
	hasher  auth.PasswordHasher
	storage repository.Storage
}

func NewService(hasher auth.PasswordHasher, storage repository.Storage) *UserService {
	if hasher == nil {
		hasher = auth.BcryptHasher{}
	}

	return &UserService{
		hasher:  hasher,
		storage: storage,
	}
}

// CreateUser creates user with hashed password and assigns roles in one transaction
func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (models.User, error) {
	var user models.User

	params.Username = strings.TrimSpace(params.Username)
	if params.Username == "" {
		return user, fmt.Errorf("%w: username must not be empty", apperrors.ErrValidationFailed)
	}
	if err := auth.CheckPasswordPolicy(params.Password); err != nil {
		return user, err
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return user, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	err = s.storage.InTx(ctx, func(tx repository.Storage) error {
		user, err = tx.User().CreateUser(ctx, repository.CreateUserParams{
			Username:       params.Username,
			HashedPassword: hash,
			FullName:       params.FullName,
			Contact:        params.Contact,
			Email:          params.Email,
		})
		if err != nil {
			return err
		}

		for _, role := range params.Roles {
			if err := tx.User().AssignRole(ctx, user.ID, role); err != nil {
				return fmt.Errorf("can't assign role %q. Err: %w", role, err)
			}
		}
		return nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("can't create user. Err: %w", err)
	}

	return user, nil
}

// Account is user with its role names
type Account struct {
	models.User
	Roles []string
}

// Account returns user whatever its status is
func (s *UserService) Account(ctx context.Context, userID int64) (Account, error) {
	user, err := s.storage.User().GetUserByID(ctx, userID)
	if err != nil {
		return Account{}, err
	}

	roles, err := s.storage.User().ListUserRoles(ctx, userID)
	if err != nil {
		return Account{}, err
	}

	return Account{User: user, Roles: roles}, nil
}

// SetActive enables or disables login of the user
// Disabled user can't refresh tokens nor get otp codes
func (s *UserService) SetActive(ctx context.Context, userID int64, active bool) error {
	return s.storage.User().SetActive(ctx, userID, active)
}
