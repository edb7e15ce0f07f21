package cex

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// wsLoginSettleDelay is the fixed pause after sending the WS login message
// before subscribing to private channels (§4.10). Named rather than a bare
// literal since no venue documentation in this exercise contradicts it.
const wsLoginSettleDelay = 1 * time.Second

// Auth signs CEX REST and WS requests with the user's HMAC-SHA256 API
// secret (§6.5).
type Auth struct {
	apiKey string
	secret []byte
}

// NewAuth constructs an Auth from a plaintext API key/secret pair.
func NewAuth(apiKey, secret string) *Auth {
	return &Auth{apiKey: apiKey, secret: []byte(secret)}
}

// RESTHeaders computes the signed header set for a REST request: X-KEY,
// X-TS, X-SIGN = hex(first32(HMAC_SHA256(ts||METHOD||path[||body], secret))).
//
// The HMAC-SHA256 digest is already exactly 32 bytes, so "first32" is the
// full digest — the clause in the design doc exists to make explicit that no
// truncation beyond the natural digest width is expected.
func (a *Auth) RESTHeaders(method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	message := ts + method + path + body

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	return map[string]string{
		"X-KEY":  a.apiKey,
		"X-TS":   ts,
		"X-SIGN": sig,
	}
}

// WSLoginPayload is the signed login message sent over the private user
// WebSocket channel.
type WSLoginPayload struct {
	Op   string      `json:"op"`
	Args WSLoginArgs `json:"args"`
}

// WSLoginArgs carries the key/sign/time triplet the venue expects.
type WSLoginArgs struct {
	Key  string `json:"key"`
	Sign string `json:"sign"`
	Time int64  `json:"time"`
}

// SettleDelay returns the fixed delay callers must wait after sending the
// WS login message before subscribing to private channels.
func (a *Auth) SettleDelay() time.Duration { return wsLoginSettleDelay }

// WSLogin builds the signed login payload. Signing input is
// ms_epoch || "websocket_login", HMAC-SHA256'd with the secret and hex
// encoded (the full 32-byte digest).
func (a *Auth) WSLogin() WSLoginPayload {
	now := time.Now().UnixMilli()
	message := strconv.FormatInt(now, 10) + "websocket_login"

	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(message))
	sig := hex.EncodeToString(mac.Sum(nil))

	return WSLoginPayload{
		Op: "login",
		Args: WSLoginArgs{
			Key:  a.apiKey,
			Sign: sig,
			Time: now,
		},
	}
}
