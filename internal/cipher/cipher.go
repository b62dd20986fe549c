// Package cipher はブラウザとやり取りするJSONペイロードを共通鍵で暗号化する。
//
// 形式は "<hex(IV)>:<base64(暗号文)>"。AES-256-CBC + PKCS#7 パディングで、
// IVは暗号化のたびに新しく生成する。
// TLSに加えたアプリケーション層での難読化が目的であり、改ざん検知は提供しない。
package cipher

import (
	"bytes"
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrDecryption は封筒の形式不正・復号失敗・JSON不正を表す。
var ErrDecryption = errors.New("decryption failed")

const delimiter = ":"

// Envelope はHTTPボディとしてやり取りする暗号化済みペイロード。
type Envelope struct {
	Encrypted bool   `json:"encrypted"`
	Data      string `json:"data"`
}

// Cipher はペイロードの暗号化・復号を行う。並行利用しても安全。
type Cipher struct {
	block stdcipher.Block
	rand  io.Reader
}

// New は秘密文字列のSHA-256を鍵とするCipherを生成する。
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, errors.New("payload secret is required")
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return &Cipher{block: block, rand: rand.Reader}, nil
}

// Encrypt は値をJSONにシリアライズして暗号化し、封筒文字列を返す。
func (c *Cipher) Encrypt(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	stdcipher.NewCBCEncrypter(c.block, iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(iv) + delimiter + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// Decrypt は封筒文字列を復号し、JSONをvにデコードする。
// 失敗時はErrDecryptionをラップしたエラーを返す。
func (c *Cipher) Decrypt(envelope string, v any) error {
	ivHex, data, ok := strings.Cut(envelope, delimiter)
	if !ok {
		return fmt.Errorf("%w: missing delimiter", ErrDecryption)
	}

	iv, err := hex.DecodeString(ivHex)
	if err != nil {
		return fmt.Errorf("%w: invalid iv encoding", ErrDecryption)
	}
	if len(iv) != aes.BlockSize {
		return fmt.Errorf("%w: invalid iv length %d", ErrDecryption, len(iv))
	}

	ciphertext, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryption)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrDecryption)
	}

	plaintext := make([]byte, len(ciphertext))
	stdcipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = unpad(plaintext, aes.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %v", ErrDecryption, err)
	}
	return nil
}

// Seal は値を暗号化してレスポンス用の封筒にする。
func (c *Cipher) Seal(v any) (Envelope, error) {
	data, err := c.Encrypt(v)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Encrypted: true, Data: data}, nil
}

// Open はリクエストボディをvにデコードする。
// ボディが {"encrypted": true, "data": "..."} の封筒であれば復号し、
// それ以外は平文のJSONとして扱う。
func (c *Cipher) Open(raw []byte, v any) error {
	var probe struct {
		Encrypted *bool   `json:"encrypted"`
		Data      *string `json:"data"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.Encrypted != nil && *probe.Encrypted {
		if probe.Data == nil {
			return fmt.Errorf("%w: envelope has no data", ErrDecryption)
		}
		return c.Decrypt(*probe.Data, v)
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode request body: %w", err)
	}
	return nil
}

func pad(b []byte, blockSize int) []byte {
	n := blockSize - len(b)%blockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte, blockSize int) ([]byte, error) {
	if len(b) == 0 || len(b)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > blockSize || n > len(b) {
		return nil, errors.New("invalid padding")
	}
	for _, p := range b[len(b)-n:] {
		if int(p) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return b[:len(b)-n], nil
}
