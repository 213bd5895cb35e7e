// Package softauthn is a software platform authenticator.
//
// It creates P-256 credentials and answers creation requests with a "none"
// attestation, which relying parties accept without a certificate chain.
// Private keys live in memory only. The confirm hook plays the part of the
// platform prompt: returning false cancels the ceremony.
package softauthn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/tendant/simple-onboard/pkg/passkey"
)

const (
	flagUserPresent  byte = 0x01
	flagUserVerified byte = 0x04
	flagAttested     byte = 0x40

	coseKeyTypeEC2   = 2
	coseAlgES256     = -7
	coseCurveP256    = 1
	credentialIDSize = 32
)

// ConfirmFunc is asked before every credential is created
type ConfirmFunc func(ctx context.Context, rpID, userName string) (bool, error)

// Credential is a key created by the authenticator
type Credential struct {
	ID         []byte
	RPID       string
	UserName   string
	PrivateKey *ecdsa.PrivateKey
}

type Authenticator struct {
	origin  string
	confirm ConfirmFunc
	random  io.Reader
	encMode cbor.EncMode

	mu          sync.Mutex
	credentials []Credential
}

// Option is a function that configures an Authenticator
type Option func(*Authenticator)

// WithConfirm sets the prompt shown before a credential is created
func WithConfirm(confirm ConfirmFunc) Option {
	return func(a *Authenticator) {
		a.confirm = confirm
	}
}

// WithRandom sets the entropy source for keys and credential ids
func WithRandom(random io.Reader) Option {
	return func(a *Authenticator) {
		a.random = random
	}
}

// New creates an authenticator that reports origin in its client data
func New(origin string, opts ...Option) (*Authenticator, error) {
	if _, err := url.Parse(origin); err != nil || origin == "" {
		return nil, fmt.Errorf("invalid origin %q", origin)
	}

	encMode, err := cbor.CTAP2EncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("failed to create cbor encoder: %w", err)
	}

	a := &Authenticator{
		origin:  origin,
		random:  rand.Reader,
		encMode: encMode,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Supported is always true: the software authenticator runs anywhere
func (a *Authenticator) Supported() bool {
	return true
}

// Credentials returns the credentials created so far
func (a *Authenticator) Credentials() []Credential {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Credential, len(a.credentials))
	copy(out, a.credentials)
	return out
}

type clientData struct {
	Type        string `json:"type"`
	Challenge   string `json:"challenge"`
	Origin      string `json:"origin"`
	CrossOrigin bool   `json:"crossOrigin"`
}

type attestationObject struct {
	Format      string                 `cbor:"fmt"`
	Statement   map[string]interface{} `cbor:"attStmt"`
	AuthDataRaw []byte                 `cbor:"authData"`
}

// CreateCredential implements passkey.Adapter
func (a *Authenticator) CreateCredential(ctx context.Context, options *protocol.CredentialCreation) (*protocol.CredentialCreationResponse, error) {
	if options == nil || len(options.Response.Challenge) == 0 {
		return nil, fmt.Errorf("creation options carry no challenge")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rpID := options.Response.RelyingParty.ID
	if rpID == "" {
		u, _ := url.Parse(a.origin)
		rpID = u.Hostname()
	}
	userName := options.Response.User.Name

	if a.confirm != nil {
		ok, err := a.confirm(ctx, rpID, userName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", passkey.ErrCancelled, err)
		}
		if !ok {
			return nil, passkey.ErrCancelled
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), a.random)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	credentialID := make([]byte, credentialIDSize)
	if _, err := io.ReadFull(a.random, credentialID); err != nil {
		return nil, fmt.Errorf("failed to generate credential id: %w", err)
	}

	authData, err := a.authenticatorData(rpID, credentialID, &key.PublicKey)
	if err != nil {
		return nil, err
	}

	attObj, err := a.encMode.Marshal(attestationObject{
		Format:      "none",
		Statement:   map[string]interface{}{},
		AuthDataRaw: authData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation object: %w", err)
	}

	cd, err := json.Marshal(clientData{
		Type:      "webauthn.create",
		Challenge: base64.RawURLEncoding.EncodeToString(options.Response.Challenge),
		Origin:    a.origin,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode client data: %w", err)
	}

	a.mu.Lock()
	a.credentials = append(a.credentials, Credential{
		ID:         credentialID,
		RPID:       rpID,
		UserName:   userName,
		PrivateKey: key,
	})
	a.mu.Unlock()

	resp := &protocol.CredentialCreationResponse{}
	resp.ID = base64.RawURLEncoding.EncodeToString(credentialID)
	resp.Type = string(protocol.PublicKeyCredentialType)
	resp.RawID = credentialID
	resp.AttestationResponse.ClientDataJSON = cd
	resp.AttestationResponse.AttestationObject = attObj
	return resp, nil
}

// authenticatorData lays out rpIdHash | flags | signCount | aaguid | credIdLen | credId | COSE key
func (a *Authenticator) authenticatorData(rpID string, credentialID []byte, pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhKey, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("failed to convert public key: %w", err)
	}
	point := ecdhKey.Bytes() // 0x04 | X | Y

	coseKey, err := a.encMode.Marshal(map[int]interface{}{
		1:  coseKeyTypeEC2,
		3:  coseAlgES256,
		-1: coseCurveP256,
		-2: point[1:33],
		-3: point[33:65],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode public key: %w", err)
	}

	rpIDHash := sha256.Sum256([]byte(rpID))

	data := make([]byte, 0, 32+1+4+16+2+len(credentialID)+len(coseKey))
	data = append(data, rpIDHash[:]...)
	data = append(data, flagUserPresent|flagUserVerified|flagAttested)
	data = binary.BigEndian.AppendUint32(data, 0)
	data = append(data, make([]byte, 16)...)
	data = binary.BigEndian.AppendUint16(data, uint16(len(credentialID)))
	data = append(data, credentialID...)
	data = append(data, coseKey...)
	return data, nil
}
