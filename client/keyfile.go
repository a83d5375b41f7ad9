package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/ahmadzakiakmal/estatechain/ledger"
)

// KeyFile is an account key as stored on disk
type KeyFile struct {
	Address ledger.Address `json:"address"`
	PubKey  []byte         `json:"pub_key"`
	PrivKey []byte         `json:"priv_key"`
}

// NewKeyFile generates a fresh ed25519 account key
func NewKeyFile() *KeyFile {
	return KeyFileFrom(ed25519.GenPrivKey())
}

func KeyFileFrom(key ed25519.PrivKey) *KeyFile {
	pub := key.PubKey()
	return &KeyFile{
		Address: ledger.AddressFromBytes(pub.Address()),
		PubKey:  pub.Bytes(),
		PrivKey: key.Bytes(),
	}
}

// Key returns the signing key
func (k *KeyFile) Key() (ed25519.PrivKey, error) {
	if len(k.PrivKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(k.PrivKey))
	}
	key := ed25519.PrivKey(k.PrivKey)
	if ledger.AddressFromBytes(key.PubKey().Address()) != k.Address {
		return nil, fmt.Errorf("key file address %s does not match its key", k.Address)
	}
	return key, nil
}

// Save writes the key readable by the owner only. It refuses to overwrite.
func (k *KeyFile) Save(path string) error {
	raw, err := json.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(raw); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}

func LoadKeyFile(path string) (*KeyFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	var k KeyFile
	if err := json.Unmarshal(raw, &k); err != nil {
		return nil, fmt.Errorf("decoding key file: %w", err)
	}
	if _, err := k.Key(); err != nil {
		return nil, err
	}
	return &k, nil
}
