package authapi

import "time"

type issueRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	UserEmail string `json:"user_email" validate:"required,email,max=320"`
	Initiator string `json:"initiator" validate:"omitempty,oneof=mobile web"`
}

type issueResponse struct {
	ID        string    `json:"id"`
	TokenID   string    `json:"token_id"`
	QRPayload string    `json:"qr_payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

type redeemPayloadRequest struct {
	QRPayload string `json:"qr_payload" validate:"required,max=1024"`
}

type redeemResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pollResponse struct {
	Status    string     `json:"status"`
	SessionID string     `json:"session_id,omitempty"`
	UserEmail string     `json:"user_email,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type identityResponse struct {
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
}
