package services

import (
	"context"
	"errors"

	"festra/models"
	"festra/repositories"
)

type UserService interface {
	GetUser(ctx context.Context, id int) (*models.User, error)

	// SetRole promotes or demotes a user. Admin only.
	SetRole(ctx context.Context, actorID, userID int, role models.UserRole) (*models.User, error)
}

type userService struct {
	users repositories.UserRepository
}

func NewUserService(users repositories.UserRepository) UserService {
	return &userService{users: users}
}

func (s *userService) GetUser(ctx context.Context, id int) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) SetRole(ctx context.Context, actorID, userID int, role models.UserRole) (*models.User, error) {
	actor, err := s.users.GetByID(ctx, actorID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if actor.Role != models.RoleAdmin {
		return nil, ErrForbiddenOperation
	}
	switch role {
	case models.RoleParticipant, models.RoleOrganizer, models.RoleAdmin:
	default:
		return nil, ErrValidationFailed
	}
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return s.GetUser(ctx, userID)
}
