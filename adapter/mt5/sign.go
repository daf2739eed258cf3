package mt5

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// sign computes the authentication signature: HMAC-SHA256 over
// apiKey||timestamp keyed with the secret, lowercase hex encoded. The
// timestamp binds the signature to a narrow validity window so captured auth
// frames cannot be replayed later.
func sign(apiKey string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(apiKey + strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}
