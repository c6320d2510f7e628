package api

import (
	"context"

	"github.com/pkg/errors"

	"github.com/suPer8Hu/neko-client/internal/models"
)

const (
	loginPath    = "/api/auth/login"
	registerPath = "/api/auth/register"
	profilePath  = "/api/auth/profile"
)

type LoginResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	var resp LoginResponse
	req := map[string]string{"email": email, "password": password}
	if err := c.Post(ctx, loginPath, req, &resp, KeepTokenOn401()); err != nil {
		return LoginResponse{}, errors.Wrap(err, "login failed")
	}
	if resp.Token == "" {
		return LoginResponse{}, errors.New("login failed: empty token")
	}
	return resp, nil
}

func (c *Client) Register(ctx context.Context, email, password, name string) (models.User, error) {
	var user models.User
	req := map[string]string{"email": email, "password": password, "name": name}
	if err := c.Post(ctx, registerPath, req, &user, KeepTokenOn401()); err != nil {
		return models.User{}, errors.Wrap(err, "registration failed")
	}
	return user, nil
}

func (c *Client) Profile(ctx context.Context) (models.User, error) {
	var user models.User
	if err := c.Get(ctx, profilePath, &user); err != nil {
		return models.User{}, errors.Wrap(err, "failed to load profile")
	}
	return user, nil
}
