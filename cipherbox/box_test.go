package cipherbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIterations = 10_000

func TestEncryptDecryptRoundTrip(t *testing.T) {
	box := New(testIterations)

	payloads := [][]byte{
		[]byte("hello"),
		[]byte(""),
		[]byte(`{"id":"did:key:abc","pnName":"alice"}`),
		make([]byte, 64*1024),
	}

	for _, plaintext := range payloads {
		blob, err := box.Encrypt(plaintext, "correct-horse")
		require.NoError(t, err)

		got, err := box.Decrypt(blob, "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	box := New(testIterations)

	blob, err := box.Encrypt([]byte("secret payload"), "correct-horse")
	require.NoError(t, err)

	_, err = box.Decrypt(blob, "battery-staple")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptRejectsParameterMismatch(t *testing.T) {
	box := New(testIterations)

	blob, err := box.Encrypt([]byte("secret payload"), "correct-horse")
	require.NoError(t, err)

	// A blob claiming weaker historical parameters must be rejected outright,
	// never decrypted with guessed settings.
	weaker := *blob
	weaker.Iterations = 1000
	_, err = box.Decrypt(&weaker, "correct-horse")
	assert.ErrorIs(t, err, ErrDecrypt)

	unknownKdf := *blob
	unknownKdf.Kdf = "pbkdf2-sha1"
	_, err = box.Decrypt(&unknownKdf, "correct-horse")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	box := New(testIterations)

	blob, err := box.Encrypt([]byte("secret payload"), "correct-horse")
	require.NoError(t, err)

	blob.Ciphertext[0] ^= 0xff
	_, err = box.Decrypt(blob, "correct-horse")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestBlobCarriesFreshParameters(t *testing.T) {
	box := New(testIterations)

	a, err := box.Encrypt([]byte("same payload"), "pw")
	require.NoError(t, err)
	b, err := box.Encrypt([]byte("same payload"), "pw")
	require.NoError(t, err)

	assert.Len(t, a.Salt, SaltBytes)
	assert.Len(t, a.Nonce, NonceBytes)
	assert.Equal(t, testIterations, a.Iterations)

	// Fresh salt and nonce per call means identical plaintexts never produce
	// identical blobs.
	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestConfigurableHash(t *testing.T) {
	box256, err := NewWithHash(testIterations, "sha256")
	require.NoError(t, err)

	blob, err := box256.Encrypt([]byte("secret payload"), "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, "pbkdf2-sha256", blob.Kdf)

	got, err := box256.Decrypt(blob, "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, []byte("secret payload"), got)

	// A box configured for a different hash treats the blob as a parameter
	// mismatch, it does not try the other hash.
	box512 := New(testIterations)
	_, err = box512.Decrypt(blob, "correct-horse")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestUnsupportedHashRejected(t *testing.T) {
	_, err := NewWithHash(testIterations, "md5")
	assert.Error(t, err)
}

func TestDecryptNilBlob(t *testing.T) {
	box := New(testIterations)

	_, err := box.Decrypt(nil, "pw")
	assert.ErrorIs(t, err, ErrDecrypt)
}
