package devbackend

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/suPer8Hu/neko-client/internal/auth"
)

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}
	if req.Name == "" {
		req.Name, _, _ = strings.Cut(req.Email, "@")
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}
	u := userRecord{Email: req.Email, Name: req.Name, Role: "user", PasswordHash: hash}
	if err := s.repo.CreateUser(c.Request.Context(), &u); err != nil {
		fail(c, http.StatusConflict, 10003, "email already registered")
		return
	}
	ok(c, http.StatusCreated, u.model())
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	u, err := s.repo.UserByEmail(c.Request.Context(), strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil || !auth.CheckPassword(u.PasswordHash, req.Password) {
		fail(c, http.StatusUnauthorized, 40102, "invalid email or password")
		return
	}
	token, err := auth.SignJWT(u.ID, s.cfg.JWTSecret, s.cfg.TokenTTL)
	if err != nil {
		fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return
	}
	ok(c, http.StatusOK, gin.H{"token": token, "user": u.model()})
}

func (s *Server) profile(c *gin.Context) {
	u, err := s.repo.UserByID(c.Request.Context(), userIDFromContext(c))
	if err == gorm.ErrRecordNotFound {
		fail(c, http.StatusNotFound, 40401, "user not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	ok(c, http.StatusOK, u.model())
}
