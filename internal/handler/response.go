package handler

import (
	"github.com/rovify/rovify/internal/model"
)

// identityResponse はIdentityのJSON表現。
type identityResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	DisplayName   string `json:"display_name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	AuthMethod    string `json:"auth_method"`
	Role          string `json:"role"`
	Verified      bool   `json:"verified"`
}

// sessionResponse は認証状態のJSON表現。
type sessionResponse struct {
	Status   string            `json:"status"`
	Identity *identityResponse `json:"identity"`
	Error    string            `json:"error,omitempty"`
}

// authResponse は認証操作の結果。Redirectはクライアントが遷移すべきパス。
type authResponse struct {
	Identity *identityResponse `json:"identity,omitempty"`
	Redirect string            `json:"redirect,omitempty"`
	Message  string            `json:"message,omitempty"`
}

func newIdentityResponse(ident *model.Identity) *identityResponse {
	if ident == nil {
		return nil
	}
	return &identityResponse{
		ID:            ident.ID,
		Email:         ident.Email,
		DisplayName:   ident.DisplayName,
		AvatarURL:     ident.AvatarURL,
		WalletAddress: ident.WalletAddress,
		AuthMethod:    string(ident.AuthMethod),
		Role:          string(ident.Role),
		Verified:      ident.Verified,
	}
}

func newSessionResponse(s model.Session) sessionResponse {
	resp := sessionResponse{
		Status:   string(s.Status),
		Identity: newIdentityResponse(s.Identity),
	}
	if s.LastError != nil {
		resp.Error = model.UserMessage(s.LastError)
	}
	return resp
}
