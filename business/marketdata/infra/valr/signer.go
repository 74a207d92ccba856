// Package valr implements the exchange client for VALR spot markets.
package valr

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

const (
	headerKey       = "X-VALR-API-KEY"
	headerSignature = "X-VALR-SIGNATURE"
	headerTimestamp = "X-VALR-TIMESTAMP"
)

// signer implements httpclient.Signer with VALR's request signature:
// hex(HMAC-SHA512(secret, timestamp + VERB + path?query + body)).
type signer struct {
	key    string
	secret string
	now    func() time.Time
}

func (s signer) Sign(req *http.Request, body []byte) error {
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	req.Header.Set(headerKey, s.key)
	req.Header.Set(headerTimestamp, ts)
	req.Header.Set(headerSignature, sign(s.secret, ts, req.Method, req.URL.RequestURI(), body))
	return nil
}

func sign(secret, timestamp, verb, path string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(verb))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
