package identity

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/scrypt"
)

// privateKeyLen is the size of a raw secp256k1 private key.
const privateKeyLen = 32

const keystoreVersion = 3

var ErrInvalidPassword = errors.New("identity: invalid password")

// ScryptParams are the KDF cost parameters written into a keystore file.
type ScryptParams struct {
	N int
	R int
	P int
}

var (
	StandardScrypt = ScryptParams{N: 1 << 18, R: 8, P: 1}
	// LightScrypt trades strength for speed; meant for tests and throwaway
	// development keys.
	LightScrypt = ScryptParams{N: 1 << 12, R: 8, P: 6}
)

type KeystoreFile struct {
	Address string     `json:"address"`
	Crypto  CryptoJSON `json:"crypto"`
	Version int        `json:"version"`
}

type CryptoJSON struct {
	Cipher       string       `json:"cipher"`
	CipherText   string       `json:"ciphertext"`
	CipherParams CipherParams `json:"cipherparams"`
	KDF          string       `json:"kdf"`
	KDFParams    KDFParams    `json:"kdfparams"`
	MAC          string       `json:"mac"`
}

type CipherParams struct {
	IV string `json:"iv"`
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	P     int    `json:"p"`
	R     int    `json:"r"`
	Salt  string `json:"salt"`
}

// Encrypt seals the identity's key with password using scrypt and
// AES-128-CTR; the MAC is Keccak-256 over the second half of the derived
// key and the ciphertext.
func Encrypt(id *Identity, password string, params ScryptParams) (*KeystoreFile, error) {
	const dkLen = 32

	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, dkLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("read iv: %w", err)
	}
	block, err := aes.NewCipher(derivedKey[:16])
	if err != nil {
		return nil, err
	}
	plain := id.PrivateKeyBytes()
	cipherText := make([]byte, len(plain))
	cipher.NewCTR(block, iv).XORKeyStream(cipherText, plain)

	mac := crypto.Keccak256(derivedKey[16:32], cipherText)

	return &KeystoreFile{
		Address: id.Address(),
		Version: keystoreVersion,
		Crypto: CryptoJSON{
			Cipher:       "aes-128-ctr",
			CipherText:   hex.EncodeToString(cipherText),
			CipherParams: CipherParams{IV: hex.EncodeToString(iv)},
			KDF:          "scrypt",
			KDFParams: KDFParams{
				DKLen: dkLen,
				N:     params.N,
				P:     params.P,
				R:     params.R,
				Salt:  hex.EncodeToString(salt),
			},
			MAC: hex.EncodeToString(mac),
		},
	}, nil
}

// Decrypt opens a keystore. A wrong password fails with ErrInvalidPassword.
func Decrypt(ks *KeystoreFile, password string) (*Identity, error) {
	if ks.Crypto.KDF != "scrypt" || ks.Crypto.Cipher != "aes-128-ctr" {
		return nil, fmt.Errorf("unsupported keystore: kdf %q cipher %q", ks.Crypto.KDF, ks.Crypto.Cipher)
	}
	p := ks.Crypto.KDFParams
	if p.DKLen < 32 {
		return nil, fmt.Errorf("derived key length %d too short", p.DKLen)
	}

	salt, err := hex.DecodeString(p.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	cipherText, err := hex.DecodeString(ks.Crypto.CipherText)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := hex.DecodeString(ks.Crypto.CipherParams.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	storedMAC, err := hex.DecodeString(ks.Crypto.MAC)
	if err != nil {
		return nil, fmt.Errorf("decode mac: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("iv length %d, want %d", len(iv), aes.BlockSize)
	}
	if len(cipherText) != privateKeyLen {
		return nil, fmt.Errorf("ciphertext length %d, want %d", len(cipherText), privateKeyLen)
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, p.N, p.R, p.P, p.DKLen)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	mac := crypto.Keccak256(derivedKey[16:32], cipherText)
	if subtle.ConstantTimeCompare(mac, storedMAC) != 1 {
		return nil, ErrInvalidPassword
	}

	block, err := aes.NewCipher(derivedKey[:16])
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(cipherText))
	cipher.NewCTR(block, iv).XORKeyStream(plain, cipherText)

	id, err := FromPrivateKey(plain)
	if err != nil {
		return nil, err
	}
	if ks.Address != "" && !strings.EqualFold(ks.Address, id.Address()) {
		return nil, fmt.Errorf("keystore address %s does not match key %s", ks.Address, id.Address())
	}
	return id, nil
}

// SaveKeystore writes the encrypted key to path with owner-only permissions.
func SaveKeystore(id *Identity, password, path string, params ScryptParams) error {
	ks, err := Encrypt(id, password, params)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	return nil
}

func LoadKeystore(password, path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var ks KeystoreFile
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("parse keystore %s: %w", path, err)
	}
	return Decrypt(&ks, password)
}

func KeystoreExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
