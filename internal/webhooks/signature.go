package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Signature headers look like "t=1712000000,v1=<hex>". The MAC covers
// "<t>.<body>" so a captured delivery cannot be replayed outside the
// receiver's tolerance window.

// SignHMAC returns the X-Signature header value for body sent at ts.
func SignHMAC(secret string, ts time.Time, body []byte) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(mac(secret, t, body))
}

// VerifyHMAC checks header against body. tolerance <= 0 skips the age check.
func VerifyHMAC(secret string, body []byte, header string, tolerance time.Duration, now time.Time) bool {
	var t, v1 string
	for _, kv := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(kv), "=")
		switch k {
		case "t":
			t = v
		case "v1":
			v1 = v
		}
	}
	sec, err := strconv.ParseInt(t, 10, 64)
	if err != nil {
		return false
	}
	if tolerance > 0 {
		if age := now.Sub(time.Unix(sec, 0)); age > tolerance || age < -tolerance {
			return false
		}
	}
	got, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	return hmac.Equal(mac(secret, t, body), got)
}

func mac(secret, t string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(t))
	m.Write([]byte{'.'})
	m.Write(body)
	return m.Sum(nil)
}
