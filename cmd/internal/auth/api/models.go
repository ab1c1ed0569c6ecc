package api

import (
	"time"

	"lotgate/cmd/identity"
	"lotgate/cmd/internal/auth/session"
)

type registerRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

type subjectResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	Role          string     `json:"role"`
	Status        string     `json:"status"`
	EmailVerified bool       `json:"email_verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type registerResponse struct {
	Subject          subjectResponse `json:"subject"`
	VerificationSent bool            `json:"verification_sent"`
}

type verifyResponse struct {
	Message  string `json:"message"`
	Verified bool   `json:"verified"`
}

type sessionInfo struct {
	SubjectID string     `json:"subject_id"`
	Role      string     `json:"role"`
	Email     string     `json:"email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type sessionResponse struct {
	Authenticated bool         `json:"authenticated"`
	Session       *sessionInfo `json:"session,omitempty"`
}

type meResponse struct {
	Subject subjectResponse `json:"subject"`
	Session sessionInfo     `json:"session"`
}

type subjectStatusResponse struct {
	Subject subjectResponse `json:"subject"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func toSubjectResponse(s identity.Subject) subjectResponse {
	return subjectResponse{
		ID:            s.ID,
		Email:         s.Email,
		Name:          s.Name,
		Role:          s.Role,
		Status:        string(s.Status),
		EmailVerified: s.EmailVerified,
		VerifiedAt:    s.VerifiedAt,
		CreatedAt:     s.CreatedAt,
	}
}

func toSessionInfo(s *session.Session) sessionInfo {
	info := sessionInfo{SubjectID: s.SubjectID, Role: s.Role, Email: s.Email}
	if !s.ExpiresAt.IsZero() {
		exp := s.ExpiresAt.UTC()
		info.ExpiresAt = &exp
	}
	return info
}
