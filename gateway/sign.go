package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ox.fun REST auth: HMAC-SHA256 over a newline-joined request description,
// base64 encoded. Timestamp format and field order are fixed by the venue.
const signTimeLayout = "2006-01-02T15:04:05"

// Sign produces the signature for one REST request. queryOrBody is the raw
// query string for GETs and the JSON body for POST/DELETE.
func Sign(secret, ts, nonce, method, host, path, queryOrBody string) string {
	msg := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s", ts, nonce, method, host, path, queryOrBody)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(msg))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AuthHeaders returns the header set for a signed request.
func AuthHeaders(apiKey, signature, ts, nonce string) map[string]string {
	return map[string]string{
		"Content-Type": "application/json",
		"AccessKey":    apiKey,
		"Timestamp":    ts,
		"Signature":    signature,
		"Nonce":        nonce,
	}
}
