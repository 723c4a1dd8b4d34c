// Package directory implements the process-wide, in-memory user directory.
//
// A User binds a username to a UUID minted at registration, an optional RSA
// public key supplied by the client, and an optional AES session key minted
// by the server. The directory is shared by every session on the listener
// and protected by a single mutex; callers never observe partial updates,
// and the lock is never held across I/O, crypto, or filesystem work (each
// public method takes the lock, mutates or copies, and releases it before
// returning).
package directory

import (
	"encoding/hex"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrAlreadyExists is returned by Register when the username is taken.
var ErrAlreadyExists = errors.New("directory: user already registered")

// ErrUnknownUser is returned when a lookup by username or UUID fails.
var ErrUnknownUser = errors.New("directory: unknown user")

// User is a snapshot of one registered client's identity and key material.
//
// Values returned by the directory are copies; mutating a returned User does
// not affect directory state.
type User struct {
	Name      string
	UUID      string // 32-char lowercase hex, per spec.md's 16-byte client_id
	PublicKey []byte // opaque, as supplied by the client on the wire
	AESKey    []byte // 32 bytes once set by PUBLIC_KEY_SUBMISSION or RECONNECTION
}

type entry struct {
	name      string
	uuid      string
	publicKey []byte
	aesKey    []byte
}

func (e *entry) snapshot() *User {
	u := &User{Name: e.name, UUID: e.uuid}
	if e.publicKey != nil {
		u.PublicKey = append([]byte(nil), e.publicKey...)
	}
	if e.aesKey != nil {
		u.AESKey = append([]byte(nil), e.aesKey...)
	}
	return u
}

// Directory is the shared, thread-safe username/UUID registry.
//
// The zero value is not usable; construct with New.
type Directory struct {
	mu     sync.Mutex
	byName map[string]*entry
	byUUID map[string]*entry
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{
		byName: make(map[string]*entry),
		byUUID: make(map[string]*entry),
	}
}

// Register creates a new user with a freshly minted UUID.
// Returns ErrAlreadyExists if the username is already registered; the
// directory is left unchanged in that case.
func (d *Directory) Register(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.byName[name]; ok {
		return "", ErrAlreadyExists
	}

	id := newClientID()
	e := &entry{name: name, uuid: id}
	d.byName[name] = e
	d.byUUID[id] = e
	return id, nil
}

// SetPublicKey stores the client's RSA public key blob for name.
// Returns ErrUnknownUser if name is not registered.
func (d *Directory) SetPublicKey(name string, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return ErrUnknownUser
	}
	e.publicKey = append([]byte(nil), key...)
	return nil
}

// SetAESKey stores a fresh AES session key for name, replacing any previous
// key. Returns ErrUnknownUser if name is not registered.
func (d *Directory) SetAESKey(name string, key []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return ErrUnknownUser
	}
	e.aesKey = append([]byte(nil), key...)
	return nil
}

// Get returns a copy of the user registered under name.
func (d *Directory) Get(name string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byName[name]
	if !ok {
		return nil, ErrUnknownUser
	}
	return e.snapshot(), nil
}

// FindByUUID returns a copy of the user with the given client UUID,
// looked up directly in the secondary uuid index.
func (d *Directory) FindByUUID(uuid string) (*User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.byUUID[uuid]
	if !ok {
		return nil, ErrUnknownUser
	}
	return e.snapshot(), nil
}

// newClientID mints a 16-byte identifier and renders it as 32 lowercase hex
// characters with no dashes, matching the wire's client_id encoding.
func newClientID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
