package keys

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/pintheon/pinner/testing/assert"
	"github.com/pintheon/pinner/testing/require"
)

const testEnvVar = "PINNER_TEST_SECRET_KEY"

func testSeed(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	return encodeStrkey(versionByteSeed, raw)
}

func TestFromSeed_DerivesStableAddress(t *testing.T) {
	seed := testSeed(t)

	kp, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, byte('G'), kp.Address()[0])

	again, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), again.Address())
}

func TestFromSeed_RejectsCorruptedSeeds(t *testing.T) {
	seed := testSeed(t)

	_, err := FromSeed(seed[:len(seed)-4])
	require.ErrorContains(t, "could not decode secret seed", err)

	// Flip a payload character to break the checksum.
	corrupted := []byte(seed)
	if corrupted[10] == 'A' {
		corrupted[10] = 'B'
	} else {
		corrupted[10] = 'A'
	}
	_, err = FromSeed(string(corrupted))
	require.NotNil(t, err)

	// An account address is not a seed.
	kp, err := FromSeed(seed)
	require.NoError(t, err)
	_, err = FromSeed(kp.Address())
	require.ErrorContains(t, "version byte", err)
}

func TestSignAndVerify(t *testing.T) {
	kp, err := FromSeed(testSeed(t))
	require.NoError(t, err)

	payload := []byte("collect_pin:42")
	sig := kp.Sign(payload)
	assert.Equal(t, true, kp.Verify(payload, sig))
	assert.Equal(t, false, kp.Verify([]byte("collect_pin:43"), sig))
}

func TestLoad_EnvTakesPrecedenceOverKeyfile(t *testing.T) {
	seed := testSeed(t)
	other := make([]byte, 32)
	for i := range other {
		other[i] = byte(0xf0 - i)
	}
	fileSeed := encodeStrkey(versionByteSeed, other)

	keyfile := filepath.Join(t.TempDir(), "operator.key")
	require.NoError(t, ioutil.WriteFile(keyfile, []byte(fileSeed+"\n"), 0600))

	t.Setenv(testEnvVar, seed)
	kp, err := Load(testEnvVar, keyfile)
	require.NoError(t, err)
	want, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), kp.Address())
}

func TestLoad_FallsBackToKeyfile(t *testing.T) {
	seed := testSeed(t)
	keyfile := filepath.Join(t.TempDir(), "operator.key")
	require.NoError(t, ioutil.WriteFile(keyfile, []byte(seed+"\n"), 0600))

	t.Setenv(testEnvVar, "")
	kp, err := Load(testEnvVar, keyfile)
	require.NoError(t, err)
	want, err := FromSeed(seed)
	require.NoError(t, err)
	assert.Equal(t, want.Address(), kp.Address())
}

func TestLoad_NothingConfigured(t *testing.T) {
	t.Setenv(testEnvVar, "")
	_, err := Load(testEnvVar, "")
	require.ErrorIs(t, err, ErrNoSecret)
}
