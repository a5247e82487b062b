package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/abcfe/abcfe-wallet/config"
	prt "github.com/abcfe/abcfe-wallet/protocol"
	"golang.org/x/crypto/scrypt"
)

const (
	scryptKeyLen = 32
	saltLen      = 32
	nonceLen     = 12
	vaultVersion = 1
)

var (
	ErrVaultNotFound     = errors.New("vault not found")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrEmptyPassword     = errors.New("password must not be empty")
)

// vaultFile is the stored envelope. Salt, nonce and ciphertext are base64.
type vaultFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	CipherText string `json:"ciphertext"`
}

// Vault keeps one password-encrypted blob in a Store.
type Vault struct {
	store   Store
	n, r, p int
}

func NewVault(store Store, cfg config.Vault) *Vault {
	return &Vault{store: store, n: cfg.ScryptN, r: cfg.ScryptR, p: cfg.ScryptP}
}

func (v *Vault) Exists() (bool, error) {
	return v.store.Has([]byte(prt.KeyVault))
}

// Save encrypts plaintext under password and replaces the stored vault.
func (v *Vault) Save(password, plaintext []byte) error {
	if len(password) == 0 {
		return ErrEmptyPassword
	}

	// Generate salt and nonce
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("failed to generate nonce: %w", err)
	}

	aesGCM, err := v.gcm(password, salt, v.n, v.r, v.p)
	if err != nil {
		return err
	}
	ciphertext := aesGCM.Seal(nil, nonce, plaintext, nil)

	data, err := json.Marshal(vaultFile{
		Version:    vaultVersion,
		KDF:        "scrypt",
		N:          v.n,
		R:          v.r,
		P:          v.p,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		CipherText: base64.StdEncoding.EncodeToString(ciphertext),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}
	return v.store.Put([]byte(prt.KeyVault), data)
}

// VaultInfo is the clear text part of the stored envelope.
type VaultInfo struct {
	Version      int
	KDF          string
	N, R, P      int
	CipherTextSz int
}

// Info reads the envelope parameters without decrypting.
func (v *Vault) Info() (*VaultInfo, error) {
	f, err := v.read()
	if err != nil {
		return nil, err
	}
	ct, err := base64.StdEncoding.DecodeString(f.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return &VaultInfo{Version: f.Version, KDF: f.KDF, N: f.N, R: f.R, P: f.P, CipherTextSz: len(ct)}, nil
}

func (v *Vault) read() (*vaultFile, error) {
	data, err := v.store.Get([]byte(prt.KeyVault))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, err
	}
	var f vaultFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	return &f, nil
}

// Load decrypts the stored vault. A wrong password yields ErrIncorrectPassword.
func (v *Vault) Load(password []byte) ([]byte, error) {
	f, err := v.read()
	if err != nil {
		return nil, err
	}
	if f.Version != vaultVersion || f.KDF != "scrypt" {
		return nil, fmt.Errorf("unsupported vault version %d (%s)", f.Version, f.KDF)
	}

	salt, err := base64.StdEncoding.DecodeString(f.Salt)
	if err != nil {
		return nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.CipherText)
	if err != nil {
		return nil, fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	aesGCM, err := v.gcm(password, salt, f.N, f.R, f.P)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aesGCM.NonceSize() {
		return nil, fmt.Errorf("invalid nonce length %d", len(nonce))
	}
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrIncorrectPassword
	}
	return plaintext, nil
}

// Clear removes the stored vault.
func (v *Vault) Clear() error {
	return v.store.Delete([]byte(prt.KeyVault))
}

func (v *Vault) gcm(password, salt []byte, n, r, p int) (cipher.AEAD, error) {
	// Derive key from password
	key, err := scrypt.Key(password, salt, n, r, p, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aesGCM, nil
}
