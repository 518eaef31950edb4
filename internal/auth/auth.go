// Package auth signs feed handshakes and REST requests with RSA-PSS.
package auth

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// Header names carried on every signed request.
const (
	HeaderKey       = "X-Api-Key"
	HeaderTimestamp = "X-Api-Timestamp"
	HeaderSignature = "X-Api-Signature"
)

var (
	ErrNoKeyID   = errors.New("api key id is required")
	ErrNoKeyPath = errors.New("private key path is required")
	ErrNoPEM     = errors.New("no PEM block found")
	ErrNotRSAKey = errors.New("key is not an RSA private key")
)

// Credentials holds the API key and private key for signing requests.
type Credentials struct {
	KeyID      string          // API key ID issued by the backend
	PrivateKey *rsa.PrivateKey // RSA private key for signing

	now func() time.Time
}

// LoadCredentials loads credentials from key ID and private key file path.
func LoadCredentials(keyID, privateKeyPath string) (*Credentials, error) {
	switch {
	case keyID == "":
		return nil, ErrNoKeyID
	case privateKeyPath == "":
		return nil, ErrNoKeyPath
	}

	privateKey, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	return &Credentials{KeyID: keyID, PrivateKey: privateKey}, nil
}

// LoadPrivateKey reads a PEM file and parses the RSA key in it.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return ParsePrivateKey(data)
}

// ParsePrivateKey accepts PKCS#8 or PKCS#1 PEM encodings.
func ParsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, ErrNoPEM
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, ErrNotRSAKey
		}
		return rsaKey, nil
	}

	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return rsaKey, nil
}

// SignRequest generates authentication headers for a request.
// The path excludes the query string.
func (c *Credentials) SignRequest(method, path string) (http.Header, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	timestampMs := now().UnixMilli()

	signature, err := c.generateSignature(timestampMs, method, path)
	if err != nil {
		return nil, err
	}

	h := make(http.Header, 3)
	h.Set(HeaderKey, c.KeyID)
	h.Set(HeaderTimestamp, strconv.FormatInt(timestampMs, 10))
	h.Set(HeaderSignature, signature)
	return h, nil
}

var pssOptions = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash}

// digest hashes the signed message: timestamp_ms + method + path.
func digest(timestampMs int64, method, path string) []byte {
	sum := sha256.Sum256([]byte(strconv.FormatInt(timestampMs, 10) + method + path))
	return sum[:]
}

func (c *Credentials) generateSignature(timestampMs int64, method, path string) (string, error) {
	if c.PrivateKey == nil {
		return "", errors.New("sign message: no private key")
	}
	sig, err := rsa.SignPSS(rand.Reader, c.PrivateKey, crypto.SHA256, digest(timestampMs, method, path), pssOptions)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// FeedHeader returns a header source for the feed handshake at feedURL.
// Every call signs afresh, so a reconnect never replays a stale timestamp.
func (c *Credentials) FeedHeader(feedURL string) (func() (http.Header, error), error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return func() (http.Header, error) {
		return c.SignRequest(http.MethodGet, path)
	}, nil
}

// Verify checks a signature produced by SignRequest against the public key.
func Verify(pub *rsa.PublicKey, timestampMs int64, method, path, signature string) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest(timestampMs, method, path), sig, pssOptions)
}
