package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignQuery adds timestamp and recvWindow to params and returns the encoded
// query with the signature appended last, as Binance expects. params is not
// modified.
func SignQuery(secret string, params url.Values, now time.Time, recvWindow time.Duration) string {
	q := url.Values{}
	for k, v := range params {
		q[k] = append([]string(nil), v...)
	}
	q.Set("timestamp", strconv.FormatInt(now.UnixMilli(), 10))
	if recvWindow > 0 {
		q.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}
	encoded := q.Encode()
	return encoded + "&signature=" + Sign(secret, encoded)
}

// Credentials are an exchange API key pair.
type Credentials struct {
	Key    string
	Secret string
}

// String returns a redacted representation suitable for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
