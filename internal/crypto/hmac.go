package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"
)

// APICreds are the Polymarket CLOB L2 credentials, either configured or
// derived through the ClobAuth flow.
type APICreds struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Empty reports whether no credentials are set.
func (c APICreds) Empty() bool {
	return c.Key == "" || c.Secret == ""
}

// L2Headers returns the HMAC headers for an authenticated CLOB request:
// POLY_ADDRESS, POLY_API_KEY, POLY_TIMESTAMP, POLY_PASSPHRASE and
// POLY_SIGNATURE.
func (c APICreds) L2Headers(address, method, path, body string) map[string]string {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with a caller-supplied unix timestamp.
func (c APICreds) L2HeadersAt(address, method, path, body string, unixTS int64) map[string]string {
	ts := strconv.FormatInt(unixTS, 10)
	return map[string]string{
		"POLY_ADDRESS":    address,
		"POLY_API_KEY":    c.Key,
		"POLY_TIMESTAMP":  ts,
		"POLY_PASSPHRASE": c.Passphrase,
		"POLY_SIGNATURE":  l2Signature(c.Secret, ts+method+path+body),
	}
}

// String returns a redacted representation suitable for logging.
func (c APICreds) String() string {
	return fmt.Sprintf("APICreds{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}

// l2Signature is url-safe base64 HMAC-SHA256 keyed by the decoded secret.
// Secrets that are not valid base64 are used as raw bytes.
func l2Signature(secret, message string) string {
	key, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		if key, err = base64.StdEncoding.DecodeString(secret); err != nil {
			key = []byte(secret)
		}
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}
