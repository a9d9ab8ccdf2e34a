package common

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"
)

// ErrSealedStore is returned when a sealed credential file cannot be opened
// with the configured passphrase.
var ErrSealedStore = errors.New("credential file: wrong passphrase or corrupt data")

const fileStoreVersion = 1

// argon2id parameters for deriving the secretbox key from a passphrase.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	saltSize   = 16
	nonceSize  = 24
	keySize    = 32
)

var _ KeyValueStore = (*FileStore)(nil)

// fileDocument is the on-disk layout. Either Values (plain) or the
// Salt/Nonce/Sealed triple (sealed) is populated.
type fileDocument struct {
	Version int               `json:"version"`
	Values  map[string]string `json:"values,omitempty"`
	Salt    []byte            `json:"salt,omitempty"`
	Nonce   []byte            `json:"nonce,omitempty"`
	Sealed  []byte            `json:"sealed,omitempty"`
}

// FileStore keeps values in a single JSON file so they survive restarts.
// With a passphrase the values are sealed with secretbox under an argon2id key.
type FileStore struct {
	mu         sync.Mutex
	path       string
	passphrase []byte

	// derived key cache, keyed by the salt it was derived with
	salt []byte
	key  *[keySize]byte
}

// NewFileStore returns a store backed by path. An empty passphrase stores values in the clear.
func NewFileStore(path, passphrase string) *FileStore {
	fs := &FileStore{path: path}
	if passphrase != "" {
		fs.passphrase = []byte(passphrase)
	}
	return fs
}

// Path returns the backing file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStore) SetMany(_ context.Context, values map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return f.save(current)
}

func (f *FileStore) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	current, err := f.load()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := current[k]; ok {
			delete(current, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.save(current)
}

func (f *FileStore) load() (map[string]string, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read credential file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode credential file: %w", err)
	}
	if doc.Version != fileStoreVersion {
		return nil, fmt.Errorf("credential file: unsupported version %d", doc.Version)
	}

	if doc.Sealed == nil {
		if f.passphrase != nil && len(doc.Values) > 0 {
			return nil, fmt.Errorf("credential file is not sealed but a passphrase is configured")
		}
		if doc.Values == nil {
			doc.Values = map[string]string{}
		}
		return doc.Values, nil
	}

	if f.passphrase == nil {
		return nil, ErrSealedStore
	}
	if len(doc.Nonce) != nonceSize {
		return nil, ErrSealedStore
	}
	var nonce [nonceSize]byte
	copy(nonce[:], doc.Nonce)

	opened, ok := secretbox.Open(nil, doc.Sealed, &nonce, f.deriveKey(doc.Salt))
	if !ok {
		return nil, ErrSealedStore
	}
	values := map[string]string{}
	if err := json.Unmarshal(opened, &values); err != nil {
		return nil, fmt.Errorf("decode sealed values: %w", err)
	}
	return values, nil
}

func (f *FileStore) save(values map[string]string) error {
	doc := fileDocument{Version: fileStoreVersion}

	if f.passphrase == nil {
		doc.Values = values
	} else {
		plain, err := json.Marshal(values)
		if err != nil {
			return fmt.Errorf("encode values: %w", err)
		}
		salt := f.salt
		if salt == nil {
			salt = make([]byte, saltSize)
			if _, err := io.ReadFull(rand.Reader, salt); err != nil {
				return fmt.Errorf("generate salt: %w", err)
			}
		}
		var nonce [nonceSize]byte
		if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
			return fmt.Errorf("generate nonce: %w", err)
		}
		doc.Salt = salt
		doc.Nonce = nonce[:]
		doc.Sealed = secretbox.Seal(nil, plain, &nonce, f.deriveKey(salt))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential file: %w", err)
	}
	return writeFileAtomic(f.path, data)
}

func (f *FileStore) deriveKey(salt []byte) *[keySize]byte {
	if f.key != nil && string(f.salt) == string(salt) {
		return f.key
	}
	var key [keySize]byte
	copy(key[:], argon2.IDKey(f.passphrase, salt, kdfTime, kdfMemory, kdfThreads, keySize))
	f.salt = append([]byte(nil), salt...)
	f.key = &key
	return f.key
}

// writeFileAtomic replaces path via a temp file in the same directory, mode 0600.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}
	return nil
}
