package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"TrackerAuth/internal"
	"TrackerAuth/internal/model"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// dummyHash сохраняет стоимость bcrypt для несуществующего пользователя,
// чтобы по времени ответа нельзя было понять, есть ли такой логин.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("not-a-real-password"), bcrypt.DefaultCost)

type UserRepository struct {
	*internal.Database
}

func NewUserRepository(database *internal.Database) *UserRepository {
	return &UserRepository{database}
}

func (repository *UserRepository) Create(ctx context.Context, user *model.User, password string) (*model.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.PasswordHash = hash

	query := `INSERT INTO users (id, username, name, role, password_hash)
			  VALUES (:id, :username, :name, :role, :password_hash)`

	if _, err := repository.DB.NamedExecContext(ctx, query, user); err != nil {
		return nil, fmt.Errorf("ошибка вставки пользователя: %w", err)
	}
	return user, nil
}

func (repository *UserRepository) VerifyCredentials(ctx context.Context, username string, password string) (*model.User, error) {
	var user model.User

	query := `SELECT id, username, name, role, password_hash FROM users WHERE username = $1`
	err := repository.DB.GetContext(ctx, &user, query, username)
	if errors.Is(err, sql.ErrNoRows) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	return &user, nil
}

func (repository *UserRepository) FindByID(ctx context.Context, id string) (*model.User, error) {
	var user model.User

	query := `SELECT id, username, name, role, password_hash FROM users WHERE id = $1`
	err := repository.DB.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска пользователя: %w", err)
	}
	return &user, nil
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка хеширования пароля: %w", err)
	}
	return string(hash), nil
}
