package auth_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/handduel/go/clients"
	"github.com/mcdev12/handduel/go/internal/models"
)

type AuthClient struct {
	*clients.BaseClient
}

func NewAuthClient(baseURL string) *AuthClient {
	return &AuthClient{
		BaseClient: clients.NewBaseClient(baseURL),
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string               `json:"access_token"`
	TokenType   string               `json:"token_type"`
	UserID      models.ParticipantID `json:"user_id"`
}

func (c *AuthClient) Login(ctx context.Context, username, password string) (LoginResponse, error) {
	body, err := c.PostJSON(ctx, LoginEndpoint, LoginRequest{Username: username, Password: password}, nil)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("failed to login: %w", err)
	}

	var response LoginResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return LoginResponse{}, fmt.Errorf("failed to unmarshal response: %w, raw response: %s", err, string(body))
	}
	if response.AccessToken == "" {
		return LoginResponse{}, errors.New("login response has no access token")
	}

	return response, nil
}

// Session logs in lazily and caches the credential. It is a clients.TokenSource.
type Session struct {
	client   *AuthClient
	username string
	password string

	mu    sync.Mutex
	login *LoginResponse
}

func NewSession(client *AuthClient, username, password string) *Session {
	return &Session{client: client, username: username, password: password}
}

func (s *Session) Token(ctx context.Context) (string, error) {
	login, err := s.ensure(ctx)
	if err != nil {
		return "", err
	}
	return login.AccessToken, nil
}

// UserID returns the authenticated participant id, logging in if needed.
func (s *Session) UserID(ctx context.Context) (models.ParticipantID, error) {
	login, err := s.ensure(ctx)
	if err != nil {
		return 0, err
	}
	return login.UserID, nil
}

func (s *Session) ensure(ctx context.Context) (LoginResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.login != nil {
		return *s.login, nil
	}
	login, err := s.client.Login(ctx, s.username, s.password)
	if err != nil {
		return LoginResponse{}, err
	}
	s.login = &login
	return login, nil
}
