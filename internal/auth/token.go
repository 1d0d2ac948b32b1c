package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
)

var errMalformedToken = errors.New("malformed sign-in token")

// generateToken は32バイトの乱数トークン（base64url）と、保存用のハッシュを返す。
func generateToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, digest(raw), nil
}

// hashToken はリンクから受け取ったトークンをハッシュに変換する。
// base64urlとして読めない値はerrMalformedTokenを返す。
func hashToken(raw string) (string, error) {
	if raw == "" {
		return "", errMalformedToken
	}
	decoded, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		return "", errMalformedToken
	}
	return digest(raw), nil
}

func digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
