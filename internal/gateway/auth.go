package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/valyala/fasthttp"
)

// ErrAuthRejected is connection-fatal: the gateway refuses the upgrade and no
// command is ever read from the socket.
var ErrAuthRejected = errors.New("authentication rejected")

// TokenVerifier turns a bearer credential into a stable user id.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// JWTVerifier validates HS256 tokens locally and takes the user id from the
// subject claim.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(ctx context.Context, tokenStr string) (string, error) {
	keyFunc := func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKey
		}
		return v.secret, nil
	}

	token, err := jwt.ParseWithClaims(tokenStr, &jwt.RegisteredClaims{}, keyFunc)
	if err != nil || !token.Valid {
		return "", ErrAuthRejected
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrAuthRejected
	}
	return claims.Subject, nil
}

// RemoteVerifier defers token checks to an external identity service.
type RemoteVerifier struct {
	baseURL string
	http    *fasthttp.Client
	timeout time.Duration
}

func NewRemoteVerifier(baseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		timeout: 5 * time.Second,
	}
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	UserID string `json:"userId"`
}

func (v *RemoteVerifier) Verify(ctx context.Context, tokenStr string) (string, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(v.baseURL + "/verify")
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(verifyRequest{Token: tokenStr})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := v.http.DoDeadline(req, resp, v.computeDeadline(ctx)); err != nil {
		return "", fmt.Errorf("identity service: %w", err)
	}

	status := resp.StatusCode()
	if status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden {
		return "", ErrAuthRejected
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("identity service: status=%d", status)
	}

	var out verifyResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(out.UserID) == "" {
		return "", ErrAuthRejected
	}
	return out.UserID, nil
}

func (v *RemoteVerifier) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(v.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}
