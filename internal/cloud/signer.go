package cloud

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"
)

const (
	signAlgorithm = "HMAC-SHA256"
	signedHeaders = "content-type;host;x-content-sha256;x-date"
	contentType   = "application/json;charset=UTF-8"
	xDateLayout   = "20060102T150405Z"
)

// Signer signs requests for the cloud phone API. The scheme follows the
// provider's documentation: a canonical header string is hashed, then signed
// with a key derived from the secret, the short date and the service name.
type Signer struct {
	accessKey string
	secretKey string
	host      string
	service   string
	now       func() time.Time
}

func NewSigner(accessKey, secretKey, host, service string) *Signer {
	return &Signer{
		accessKey: accessKey,
		secretKey: secretKey,
		host:      host,
		service:   service,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Sign sets the date, host and authorization headers on req for body.
func (s *Signer) Sign(req *http.Request, body []byte) {
	xDate := s.now().Format(xDateLayout)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-date", xDate)
	req.Header.Set("x-host", s.host)
	req.Header.Set("authorization", fmt.Sprintf("%s Credential=%s, SignedHeaders=%s, Signature=%s",
		signAlgorithm, s.accessKey, signedHeaders, s.Signature(xDate, body)))
}

// Signature computes the hex signature for body sent at xDate.
func (s *Signer) Signature(xDate string, body []byte) string {
	contentHash := sha256.Sum256(body)
	canonical := "host:" + s.host + "\n" +
		"x-date:" + xDate + "\n" +
		"content-type:" + contentType + "\n" +
		"signedHeaders:" + signedHeaders + "\n" +
		"x-content-sha256:" + hex.EncodeToString(contentHash[:])

	shortDate := xDate[:8]
	scope := shortDate + "/" + s.service + "/request"
	canonicalHash := sha256.Sum256([]byte(canonical))
	stringToSign := signAlgorithm + "\n" + xDate + "\n" + scope + "\n" + hex.EncodeToString(canonicalHash[:])

	key := hmacSHA256([]byte(s.secretKey), shortDate)
	key = hmacSHA256(key, s.service)
	key = hmacSHA256(key, "request")
	return hex.EncodeToString(hmacSHA256(key, stringToSign))
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
