// Package escrow stores authenticated-encrypted opaque blobs on a local
// filesystem, each identified by a random filename and a per-blob key.
// Encryption is via github.com/fernet/fernet-go, which implements the
// Fernet token format (AES-128-CBC + HMAC-SHA256, URL-safe base64
// envelope) the blob format is specified against.
package escrow

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/fernet/fernet-go"

	"github.com/slidevault/wsipseudo/internal/wsierr"
)

const filenameAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Store is a directory of encrypted blobs.
type Store struct {
	dir     string
	nameLen int
}

// New opens (creating if necessary) a Store rooted at dir, generating
// nameLen-character random filenames for new blobs.
func New(dir string, nameLen int) (*Store, error) {
	const op = "escrow.New"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return &Store{dir: dir, nameLen: nameLen}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) randomName() (string, error) {
	b := make([]byte, s.nameLen)
	max := big.NewInt(int64(len(filenameAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = filenameAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Put encrypts plaintext under a freshly generated key and writes it to a
// freshly generated filename, returning both so the caller can record
// them for later retrieval.
func (s *Store) Put(plaintext []byte) (name, key string, err error) {
	const op = "escrow.Put"
	k, err := fernet.GenerateKey()
	if err != nil {
		return "", "", wsierr.Wrap(wsierr.FileIO, op, err)
	}
	tok, err := fernet.EncryptAndSign(plaintext, k)
	if err != nil {
		return "", "", wsierr.Wrap(wsierr.FileIO, op, err)
	}

	base, err := s.randomName()
	if err != nil {
		return "", "", wsierr.Wrap(wsierr.FileIO, op, err)
	}
	name, err = s.reserveName(base, tok)
	if err != nil {
		return "", "", wsierr.Wrap(wsierr.FileIO, op, err)
	}
	return name, k.Encode(), nil
}

// reserveName creates the first available filename starting at base
// (then base_1, base_2, ... on collision) and writes data to it.
func (s *Store) reserveName(base string, data []byte) (string, error) {
	candidate := base
	for n := 0; ; n++ {
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d", base, n)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil {
				return "", werr
			}
			if cerr != nil {
				return "", cerr
			}
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", err
		}
	}
}

// Get decrypts the blob named name using key. It fails with CryptoInvalid
// if the key is wrong or the ciphertext was tampered with, and with
// NotFound if name does not resolve to an existing file.
func (s *Store) Get(name, key string) ([]byte, error) {
	const op = "escrow.Get"
	path := filepath.Join(s.dir, name)
	tok, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, wsierr.Wrap(wsierr.NotFound, op, fmt.Errorf("blob %q not found", name))
		}
		return nil, wsierr.Wrap(wsierr.FileIO, op, err)
	}

	k, err := fernet.DecodeKey(key)
	if err != nil {
		return nil, wsierr.Wrap(wsierr.CryptoInvalid, op, fmt.Errorf("decode key: %w", err))
	}
	// ttl=0 disables fernet's token-age check: escrow blobs have no
	// expiry, only confidentiality+integrity.
	msg := fernet.VerifyAndDecrypt(tok, 0, []*fernet.Key{k})
	if msg == nil {
		return nil, wsierr.Wrap(wsierr.CryptoInvalid, op, fmt.Errorf("decryption failed: wrong key or tampered ciphertext"))
	}
	return msg, nil
}

// Delete removes a blob, used when rolling back a partially committed
// pseudonymization.
func (s *Store) Delete(name string) error {
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !os.IsNotExist(err) {
		return wsierr.Wrap(wsierr.FileIO, "escrow.Delete", err)
	}
	return nil
}
