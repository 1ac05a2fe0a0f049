// Package auth issues and validates the JWT pair agents authenticate with.
package auth

import (
	"errors"
	"time"

	"covertext/pkg/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AgentRepository is the slice of agent data access the auth service needs.
type AgentRepository interface {
	GetByEmail(email string) (*models.Agent, error)
	GetByID(id uuid.UUID) (*models.Agent, error)
	Update(agent *models.Agent) error
	UpdateLastLogin(id uuid.UUID) error
	UpdatePassword(id uuid.UUID, hash string) error
}

// Service handles authentication logic
type Service struct {
	agents          AgentRepository
	secret          []byte
	accessDuration  time.Duration
	refreshDuration time.Duration
}

// NewService creates a new auth service
func NewService(agents AgentRepository, secret string, accessDuration, refreshDuration time.Duration) *Service {
	return &Service{
		agents:          agents,
		secret:          []byte(secret),
		accessDuration:  accessDuration,
		refreshDuration: refreshDuration,
	}
}

// LoginRequest represents login request data
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse represents login response data
type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	Agent        models.Agent `json:"agent"`
	ExpiresIn    int64        `json:"expires_in"`
}

// TokenClaims represents JWT token claims
type TokenClaims struct {
	AgentID  uuid.UUID `json:"agent_id"`
	AgencyID uuid.UUID `json:"agency_id"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Type     string    `json:"type"` // access or refresh
	jwt.RegisteredClaims
}

// Login authenticates an agent and returns tokens
func (s *Service) Login(req LoginRequest) (*LoginResponse, error) {
	agent, err := s.agents.GetByEmail(req.Email)
	if err != nil {
		return nil, errors.New("invalid credentials")
	}

	if !agent.IsActive {
		return nil, errors.New("agent account is disabled")
	}

	if !s.verifyPassword(req.Password, agent.Password) {
		return nil, errors.New("invalid credentials")
	}

	if err := s.agents.UpdateLastLogin(agent.ID); err != nil {
		return nil, err
	}

	return s.tokenPair(agent)
}

// RefreshToken generates new tokens from a refresh token
func (s *Service) RefreshToken(tokenString string) (*LoginResponse, error) {
	claims, err := s.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	if claims.Type != "refresh" {
		return nil, errors.New("invalid token type")
	}

	agent, err := s.agents.GetByID(claims.AgentID)
	if err != nil {
		return nil, errors.New("agent not found")
	}

	if !agent.IsActive {
		return nil, errors.New("agent account is disabled")
	}

	return s.tokenPair(agent)
}

// ValidateToken validates and parses a JWT token
func (s *Service) ValidateToken(tokenString string) (*TokenClaims, error) {
	return s.validateToken(tokenString)
}

// HashPassword hashes a password with bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// UpdateProfile updates agent profile information
func (s *Service) UpdateProfile(agentID uuid.UUID, req models.UpdateProfileRequest) (*models.Agent, error) {
	agent, err := s.agents.GetByID(agentID)
	if err != nil {
		return nil, errors.New("agent not found")
	}

	agent.Name = req.Name
	agent.Email = req.Email
	agent.Phone = req.Phone

	if err := s.agents.Update(agent); err != nil {
		return nil, errors.New("failed to update agent profile")
	}

	return agent, nil
}

// ChangePassword changes the agent's password after verifying the current one
func (s *Service) ChangePassword(agentID uuid.UUID, currentPassword, newPassword string) error {
	agent, err := s.agents.GetByID(agentID)
	if err != nil {
		return errors.New("agent not found")
	}

	if !s.verifyPassword(currentPassword, agent.Password) {
		return errors.New("current password is incorrect")
	}

	hashedPassword, err := s.HashPassword(newPassword)
	if err != nil {
		return errors.New("failed to hash new password")
	}

	if err := s.agents.UpdatePassword(agent.ID, hashedPassword); err != nil {
		return errors.New("failed to update password")
	}

	return nil
}

func (s *Service) tokenPair(agent *models.Agent) (*LoginResponse, error) {
	accessToken, err := s.generateToken(agent, "access", s.accessDuration)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.generateToken(agent, "refresh", s.refreshDuration)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Agent:        *agent,
		ExpiresIn:    int64(s.accessDuration.Seconds()),
	}, nil
}

func (s *Service) generateToken(agent *models.Agent, tokenType string, duration time.Duration) (string, error) {
	claims := TokenClaims{
		AgentID:  agent.ID,
		AgencyID: agent.AgencyID,
		Email:    agent.Email,
		Role:     agent.Role,
		Type:     tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(duration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "covertext",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Service) validateToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return s.secret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (s *Service) verifyPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
