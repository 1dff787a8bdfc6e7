package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Header names set on outbound deliveries.
const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Signature-Timestamp"
	HeaderEventType = "X-Event-Type"
	HeaderDelivery  = "X-Delivery-Id"
)

const signaturePrefix = "sha256="

var (
	ErrBadSignature   = eris.New("webhooks: signature mismatch")
	ErrStaleSignature = eris.New("webhooks: signature timestamp outside tolerance")
)

// Sign returns "sha256=<hex>" over "<unix seconds>.<body>". Binding the
// timestamp into the MAC lets receivers reject replays.
func Sign(secret string, ts time.Time, body []byte) string {
	return signaturePrefix + hex.EncodeToString(mac(secret, ts.Unix(), body))
}

// Verify checks a signature produced by Sign. A zero tolerance skips the age check.
func Verify(secret string, body []byte, timestamp, signature string, tolerance time.Duration, now time.Time) error {
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return eris.Wrapf(ErrBadSignature, "timestamp %q", timestamp)
	}
	if tolerance > 0 {
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return ErrStaleSignature
		}
	}
	got, err := hex.DecodeString(strings.TrimPrefix(signature, signaturePrefix))
	if err != nil || !hmac.Equal(mac(secret, unix, body), got) {
		return ErrBadSignature
	}
	return nil
}

func mac(secret string, unix int64, body []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(strconv.FormatInt(unix, 10)))
	h.Write([]byte{'.'})
	h.Write(body)
	return h.Sum(nil)
}
