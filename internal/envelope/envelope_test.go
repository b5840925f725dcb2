package envelope

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	plain := []byte(`{"issuer_url":"https://example.com/","name":"a"}`)

	line, err := SealToFile(plain, "hunter2")
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(line, ":"))

	got, err := OpenFromFile(line, "hunter2")
	require.NoError(t, err)
	require.Equal(t, plain, got)
}

func TestOpenFromFileWrongPassword(t *testing.T) {
	line, err := SealToFile([]byte("secret payload"), "correct")
	require.NoError(t, err)

	_, err = OpenFromFile(line, "incorrect")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestOpenFromFileTamperedCipherLen(t *testing.T) {
	line, err := SealToFile([]byte("secret payload"), "pw")
	require.NoError(t, err)

	fields := strings.SplitN(line, ":", 4)
	fields[0] = "0"
	tampered := strings.Join(fields, ":")

	_, err = OpenFromFile(tampered, "pw")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestOpenFromFileMalformedFraming(t *testing.T) {
	_, err := OpenFromFile("not:enough:fields", "pw")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestEncryptProducesFreshSaltAndNonce(t *testing.T) {
	a, err := Encrypt([]byte("same plaintext"), "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("same plaintext"), "pw")
	require.NoError(t, err)

	require.NotEqual(t, a.Salt, b.Salt)
	require.NotEqual(t, a.Nonce, b.Nonce)
	require.NotEqual(t, a.Cipher, b.Cipher)
}
