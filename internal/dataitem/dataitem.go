package dataitem

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// SignatureType identifies the signing scheme of every item produced here.
const SignatureType = "ed25519"

// idPattern matches a 43-character base64url identifier (32 raw bytes).
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{43}$`)

// ValidID reports whether s is syntactically a content or message id.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

// Tag is a name/value pair attached to a data item.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Tags is an ordered tag list.
type Tags []Tag

// Get returns the value of the first tag with the given name.
func (t Tags) Get(name string) (string, bool) {
	for _, tag := range t {
		if tag.Name == name {
			return tag.Value, true
		}
	}
	return "", false
}

// Value returns the value of name, or "" if absent.
func (t Tags) Value(name string) string {
	v, _ := t.Get(name)
	return v
}

// Signer signs messages on behalf of an owner key.
type Signer interface {
	Owner() string
	Sign(message []byte) ([]byte, error)
}

// Verifier checks an owner's signature.
type Verifier func(owner string, message, signature []byte) bool

// Item is a signed envelope. Data and Signature are base64url encoded so the
// item serializes to JSON unchanged.
type Item struct {
	ID            string `json:"id"`
	SignatureType string `json:"signatureType"`
	Signature     string `json:"signature"`
	Owner         string `json:"owner"`
	Target        string `json:"target,omitempty"`
	Anchor        string `json:"anchor,omitempty"`
	Tags          Tags   `json:"tags"`
	Data          string `json:"data"`
}

// New creates an unsigned item with a random anchor.
func New(data []byte, target string, tags ...Tag) (*Item, error) {
	anchor := make([]byte, 32)
	if _, err := rand.Read(anchor); err != nil {
		return nil, fmt.Errorf("generating anchor: %w", err)
	}
	return &Item{
		SignatureType: SignatureType,
		Target:        target,
		Anchor:        base64.RawURLEncoding.EncodeToString(anchor),
		Tags:          tags,
		Data:          base64.RawURLEncoding.EncodeToString(data),
	}, nil
}

// RawData decodes the payload.
func (it *Item) RawData() ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(it.Data)
}

// Sign sets Owner, Signature and ID. The id is the base64url SHA-256 of
// the signature.
func (it *Item) Sign(s Signer) error {
	it.Owner = s.Owner()
	msg, err := it.signingMessage()
	if err != nil {
		return err
	}
	sig, err := s.Sign(msg)
	if err != nil {
		return fmt.Errorf("signing data item: %w", err)
	}
	it.Signature = base64.RawURLEncoding.EncodeToString(sig)
	it.ID = idFor(sig)
	return nil
}

// Verify checks the id and signature of a signed item.
func (it *Item) Verify(verify Verifier) error {
	sig, err := base64.RawURLEncoding.DecodeString(it.Signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	if it.ID != idFor(sig) {
		return errors.New("data item id does not match signature")
	}
	msg, err := it.signingMessage()
	if err != nil {
		return err
	}
	if !verify(it.Owner, msg, sig) {
		return errors.New("data item signature is invalid")
	}
	return nil
}

// Size returns the encoded JSON size of the item.
func (it *Item) Size() (int, error) {
	b, err := json.Marshal(it)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// signingMessage is the SHA-256 over every signed field, each prefixed by
// its big-endian uint64 length so field boundaries are unambiguous.
func (it *Item) signingMessage() ([]byte, error) {
	tags, err := json.Marshal(it.Tags)
	if err != nil {
		return nil, fmt.Errorf("encoding tags: %w", err)
	}
	h := sha256.New()
	var length [8]byte
	for _, field := range [][]byte{
		[]byte(it.SignatureType),
		[]byte(it.Owner),
		[]byte(it.Target),
		[]byte(it.Anchor),
		tags,
		[]byte(it.Data),
	} {
		binary.BigEndian.PutUint64(length[:], uint64(len(field)))
		h.Write(length[:])
		h.Write(field)
	}
	return h.Sum(nil), nil
}

func idFor(sig []byte) string {
	sum := sha256.Sum256(sig)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
