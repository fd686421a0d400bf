// Package wecom implements the WeCom (企业微信) callback protocol:
// signature verification and AES decryption of inbound events, XML
// event parsing, and the outbound message API client.
package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidSignature marks a failed keyed-hash comparison: the request
// was not produced by the platform. Distinct from ErrDecode, which
// marks a well-signed payload that cannot be decrypted or parsed.
var ErrInvalidSignature = errors.New("wecom: invalid signature")

// ErrDecode marks a payload that passed the signature check but could
// not be decrypted, unpadded, or attributed to this corp.
var ErrDecode = errors.New("wecom: decode failed")

const blockSize = 32 // PKCS#7 block size used by the WeCom envelope

// Crypto verifies and decrypts WeCom callback payloads.
type Crypto struct {
	token  string
	key    []byte
	corpID string
}

// NewCrypto builds a Crypto from the enterprise-provisioned verification
// token and the 43-character EncodingAESKey.
func NewCrypto(token, encodingAESKey, corpID string) (*Crypto, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode encoding aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encoding aes key must decode to 32 bytes, got %d", len(key))
	}
	return &Crypto{token: token, key: key, corpID: corpID}, nil
}

// Sign computes the callback signature over timestamp, nonce and the
// encrypted payload: SHA1 of the lexicographically sorted elements.
func (c *Crypto) Sign(timestamp, nonce, payload string) string {
	items := []string{c.token, timestamp, nonce, payload}
	sort.Strings(items)
	sum := sha1.Sum([]byte(strings.Join(items, "")))
	return hex.EncodeToString(sum[:])
}

func (c *Crypto) checkSignature(signature, timestamp, nonce, payload string) error {
	expected := c.Sign(timestamp, nonce, payload)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyURL handles the GET provisioning handshake: it verifies the
// signature over echostr and returns the decrypted echo plaintext.
func (c *Crypto) VerifyURL(signature, timestamp, nonce, echostr string) (string, error) {
	if err := c.checkSignature(signature, timestamp, nonce, echostr); err != nil {
		return "", err
	}
	msg, err := c.decrypt(echostr)
	if err != nil {
		return "", err
	}
	return string(msg), nil
}

type encryptedEnvelope struct {
	XMLName xml.Name `xml:"xml"`
	Encrypt string   `xml:"Encrypt"`
}

// DecryptMessage verifies and decrypts a POST callback body, returning
// the plaintext event XML.
func (c *Crypto) DecryptMessage(body []byte, signature, timestamp, nonce string) ([]byte, error) {
	var envelope encryptedEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: parse envelope: %v", ErrDecode, err)
	}
	if err := c.checkSignature(signature, timestamp, nonce, envelope.Encrypt); err != nil {
		return nil, err
	}
	return c.decrypt(envelope.Encrypt)
}

// decrypt reverses the WeCom envelope: base64, AES-CBC with IV=key[:16],
// PKCS#7 unpad, then random(16) | msg_len(4, BE) | msg | receiver_id.
func (c *Crypto) decrypt(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	if len(data) < aes.BlockSize*2 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrDecode, len(data))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, c.key[:aes.BlockSize]).CryptBlocks(plain, data)

	plain, err = pkcs7Strip(plain)
	if err != nil {
		return nil, err
	}
	if len(plain) < 20 {
		return nil, fmt.Errorf("%w: plaintext too short", ErrDecode)
	}

	msgLen := binary.BigEndian.Uint32(plain[16:20])
	if int(msgLen) > len(plain)-20 {
		return nil, fmt.Errorf("%w: message length %d exceeds payload", ErrDecode, msgLen)
	}
	msg := plain[20 : 20+msgLen]
	receiverID := string(plain[20+msgLen:])
	if receiverID != c.corpID {
		return nil, fmt.Errorf("%w: receiver %q is not corp %q", ErrDecode, receiverID, c.corpID)
	}
	return msg, nil
}

// Encrypt builds the base64 ciphertext for a plaintext message. Used by
// the provisioning tooling and tests; the reply path goes through the
// outbound API, not the passive response.
func (c *Crypto) Encrypt(msg []byte) (string, error) {
	prefix := make([]byte, 16)
	if _, err := rand.Read(prefix); err != nil {
		return "", err
	}

	buf := make([]byte, 0, 20+len(msg)+len(c.corpID))
	buf = append(buf, prefix...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(msg)))
	buf = append(buf, msg...)
	buf = append(buf, c.corpID...)
	buf = pkcs7Pad(buf)

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	out := make([]byte, len(buf))
	cipher.NewCBCEncrypter(block, c.key[:aes.BlockSize]).CryptBlocks(out, buf)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte) []byte {
	pad := blockSize - len(data)%blockSize
	if pad == 0 {
		pad = blockSize
	}
	padding := make([]byte, pad)
	for i := range padding {
		padding[i] = byte(pad)
	}
	return append(data, padding...)
}

func pkcs7Strip(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty plaintext", ErrDecode)
	}
	pad := int(data[len(data)-1])
	if pad < 1 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("%w: bad padding %d", ErrDecode, pad)
	}
	return data[:len(data)-pad], nil
}
