package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/permaskills/skills/internal/apperr"
)

const (
	keyType  = "OKP"
	curve    = "Ed25519"
	fileMode = 0o600
)

// jwk is the on-disk key file format (RFC 8037 OKP key).
type jwk struct {
	Kty string `json:"kty"`
	Crv string `json:"crv"`
	D   string `json:"d"`
	X   string `json:"x"`
}

// Wallet holds an ed25519 key pair.
type Wallet struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Generate creates a wallet from fresh randomness.
func Generate() (*Wallet, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating ed25519 key: %w", err)
	}
	return &Wallet{private: priv, public: pub}, nil
}

// FromSeed builds a wallet from a 32-byte ed25519 seed.
func FromSeed(seed []byte) (*Wallet, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Wallet{private: priv, public: priv.Public().(ed25519.PublicKey)}, nil
}

// Load reads a JWK key file. A missing or malformed file is a
// Configuration error so the CLI can point at the wallet setting.
func Load(path string) (*Wallet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Wrap(err, apperr.KindConfiguration, apperr.CodeMissingSetting,
				fmt.Sprintf("wallet file %s not found", path),
				"pass --wallet or set wallet.path")
		}
		return nil, apperr.Wrap(err, apperr.KindFileSystem, apperr.CodeIO,
			fmt.Sprintf("reading wallet %s", path), "")
	}

	var key jwk
	if err := json.Unmarshal(data, &key); err != nil {
		return nil, invalidKey(path, err)
	}
	if key.Kty != keyType || key.Crv != curve {
		return nil, invalidKey(path, fmt.Errorf("unsupported key type %s/%s", key.Kty, key.Crv))
	}
	seed, err := base64.RawURLEncoding.DecodeString(key.D)
	if err != nil {
		return nil, invalidKey(path, fmt.Errorf("decoding d: %w", err))
	}
	w, err := FromSeed(seed)
	if err != nil {
		return nil, invalidKey(path, err)
	}
	if key.X != "" && key.X != w.Owner() {
		return nil, invalidKey(path, errors.New("public key does not match private key"))
	}
	return w, nil
}

func invalidKey(path string, err error) error {
	return apperr.Wrap(err, apperr.KindConfiguration, apperr.CodeInvalidInput,
		fmt.Sprintf("wallet %s is not a valid Ed25519 JWK", path), "")
}

// Save writes the wallet as a JWK file readable only by the current user.
func (w *Wallet) Save(path string) error {
	data, err := json.MarshalIndent(jwk{
		Kty: keyType,
		Crv: curve,
		D:   base64.RawURLEncoding.EncodeToString(w.private.Seed()),
		X:   w.Owner(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding wallet: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating wallet directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), fileMode); err != nil {
		return fmt.Errorf("writing wallet: %w", err)
	}
	return nil
}

// Owner returns the base64url public key carried in signed items.
func (w *Wallet) Owner() string {
	return base64.RawURLEncoding.EncodeToString(w.public)
}

// Address returns the base64url SHA-256 of the public key, the identifier
// storage gateways use for balances.
func (w *Wallet) Address() string {
	return AddressOf(w.public)
}

// Sign signs message with the private key.
func (w *Wallet) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(w.private, message), nil
}

// AddressOf derives the address for a public key.
func AddressOf(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verify checks a signature against a base64url-encoded owner key.
func Verify(owner string, message, signature []byte) bool {
	pub, err := base64.RawURLEncoding.DecodeString(owner)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	if len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, signature)
}
