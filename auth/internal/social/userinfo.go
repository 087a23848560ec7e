package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
)

const maxUserInfoBytes = 1 << 20

// UserInfoVerifier accepts a provider access token if the provider's userinfo
// endpoint answers for it.
type UserInfoVerifier struct {
	client   *http.Client
	endpoint string
	parse    func(body []byte) (Identity, error)
}

func NewUserInfoVerifier(client *http.Client, endpoint string, parse func([]byte) (Identity, error)) *UserInfoVerifier {
	return &UserInfoVerifier{client: client, endpoint: endpoint, parse: parse}
}

func (v *UserInfoVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrInvalidToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, v.client)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build userinfo request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("userinfo request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUserInfoBytes))
	if err != nil {
		return Identity{}, fmt.Errorf("read userinfo: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Identity{}, fmt.Errorf("%w: status %d", ErrInvalidToken, resp.StatusCode)
	default:
		return Identity{}, fmt.Errorf("userinfo status: %s", resp.Status)
	}

	return v.parse(body)
}

func parseKakao(body []byte) (Identity, error) {
	var payload struct {
		ID           json.Number `json:"id"`
		KakaoAccount struct {
			Email           string `json:"email"`
			IsEmailValid    bool   `json:"is_email_valid"`
			IsEmailVerified bool   `json:"is_email_verified"`
		} `json:"kakao_account"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Identity{}, fmt.Errorf("decode kakao userinfo: %w", err)
	}

	id := Identity{Subject: payload.ID.String()}
	if acc := payload.KakaoAccount; acc.IsEmailValid && acc.IsEmailVerified {
		id.Email = acc.Email
	}
	return id, nil
}

// parseNaver never adopts the profile email since Naver publishes no
// verification flag for it.
func parseNaver(body []byte) (Identity, error) {
	var payload struct {
		ResultCode string `json:"resultcode"`
		Response   struct {
			ID string `json:"id"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Identity{}, fmt.Errorf("decode naver userinfo: %w", err)
	}
	if payload.ResultCode != "" && payload.ResultCode != "00" {
		return Identity{}, fmt.Errorf("%w: naver resultcode %s", ErrInvalidToken, payload.ResultCode)
	}
	return Identity{Subject: payload.Response.ID}, nil
}

func parseGoogle(body []byte) (Identity, error) {
	var payload struct {
		Sub           string `json:"sub"`
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Identity{}, fmt.Errorf("decode google userinfo: %w", err)
	}

	id := Identity{Subject: payload.Sub}
	if payload.EmailVerified {
		id.Email = payload.Email
	}
	return id, nil
}
