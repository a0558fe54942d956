// Package keys manages the operator's ed25519 signing identity. Seeds and
// addresses use the ledger's strkey encoding: base32 with a version byte
// and a CRC16-XModem checksum, 'S' prefixed seeds and 'G' prefixed
// account addresses.
package keys

import (
	"crypto/ed25519"
	"encoding/base32"
	"io/ioutil"
	"os"
	"strings"

	"github.com/pkg/errors"
)

const (
	versionByteAccount = 6 << 3  // 'G'
	versionByteSeed    = 18 << 3 // 'S'
)

// ErrNoSecret is returned when neither the secret env var nor a keyfile
// provides an operator seed.
var ErrNoSecret = errors.New("no operator secret configured")

// Keypair is the operator's signing identity.
type Keypair struct {
	priv    ed25519.PrivateKey
	address string
}

// FromSeed derives a keypair from a strkey-encoded secret seed.
func FromSeed(seed string) (*Keypair, error) {
	raw, err := decodeStrkey(versionByteSeed, seed)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode secret seed")
	}
	priv := ed25519.NewKeyFromSeed(raw)
	pub := priv.Public().(ed25519.PublicKey)
	return &Keypair{
		priv:    priv,
		address: encodeStrkey(versionByteAccount, pub),
	}, nil
}

// Load resolves the operator keypair from the secret environment variable,
// falling back to the given keyfile path. The config file never carries
// the secret.
func Load(envVar, keyfile string) (*Keypair, error) {
	if seed := os.Getenv(envVar); seed != "" {
		return FromSeed(strings.TrimSpace(seed))
	}
	if keyfile == "" {
		return nil, ErrNoSecret
	}
	raw, err := ioutil.ReadFile(keyfile) // #nosec G304 -- operator-provided path
	if err != nil {
		return nil, errors.Wrapf(err, "could not read keyfile %s", keyfile)
	}
	return FromSeed(strings.TrimSpace(string(raw)))
}

// Address returns the strkey-encoded account address.
func (k *Keypair) Address() string {
	return k.address
}

// Sign signs the given payload with the operator's private key.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.priv, payload)
}

// Verify reports whether sig is a valid signature of payload by this keypair.
func (k *Keypair) Verify(payload, sig []byte) bool {
	return ed25519.Verify(k.priv.Public().(ed25519.PublicKey), payload, sig)
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

func encodeStrkey(version byte, payload []byte) string {
	data := make([]byte, 0, 1+len(payload)+2)
	data = append(data, version)
	data = append(data, payload...)
	crc := crc16(data)
	data = append(data, byte(crc&0xff), byte(crc>>8))
	return b32.EncodeToString(data)
}

func decodeStrkey(version byte, key string) ([]byte, error) {
	data, err := b32.DecodeString(strings.ToUpper(key))
	if err != nil {
		return nil, err
	}
	if len(data) != 1+ed25519.SeedSize+2 {
		return nil, errors.Errorf("invalid key length %d", len(data))
	}
	if data[0] != version {
		return nil, errors.Errorf("unexpected version byte %#x", data[0])
	}
	payload := data[1 : len(data)-2]
	want := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	if crc16(data[:len(data)-2]) != want {
		return nil, errors.New("checksum mismatch")
	}
	return payload, nil
}

// crc16 implements CRC16-XModem as used by the strkey checksum.
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
