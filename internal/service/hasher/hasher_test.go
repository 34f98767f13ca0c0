package hasher

import (
	"encoding/base64"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const abcSHA256 = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

// TestBytes_KnownVectors checks the digests of "abc" for every supported algorithm.
func TestBytes_KnownVectors(t *testing.T) {
	t.Parallel()

	cases := map[Algorithm]string{
		SHA1:   "a9993e364706816aba3e25717850c26c9cd0d89d",
		SHA256: abcSHA256,
		SHA512: "ddaf35a193617abacc417349ae20413112e6fa4e89a97ea20a9eeee64b55d39a" +
			"2192992a274fc1a836ba3c23a3feebbd454d4423643ce80e2a9ac94fa54ca49f",
	}

	for alg, want := range cases {
		got, err := Bytes([]byte("abc"), alg)
		require.NoError(t, err)
		require.Equal(t, want, got, "algorithm %s", alg)
	}
}

// TestFile_MatchesBytes ensures streaming a file gives the same digest as hashing its bytes.
func TestFile_MatchesBytes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "client.jar")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))

	got, err := File(path, SHA256)
	require.NoError(t, err)
	require.Equal(t, abcSHA256, got)

	_, err = File(filepath.Join(t.TempDir(), "missing"), SHA256)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestParseAlgorithm covers normalization, the default and unknown identifiers.
func TestParseAlgorithm(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]Algorithm{"": SHA256, "SHA-256": SHA256, "sha512": SHA512, " Sha1 ": SHA1} {
		got, err := ParseAlgorithm(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}

	_, err := ParseAlgorithm("md5")
	require.ErrorIs(t, err, ErrUnknownAlgorithm)

	_, err = Algorithm("crc32").Hash()
	require.ErrorIs(t, err, ErrUnknownAlgorithm)
}

// TestEqual accepts hex in any case and base64, and rejects anything else.
func TestEqual(t *testing.T) {
	t.Parallel()

	raw, err := hex.DecodeString(abcSHA256)
	require.NoError(t, err)

	require.True(t, Equal(abcSHA256, abcSHA256))
	require.True(t, Equal(strings.ToUpper(abcSHA256), abcSHA256))
	require.True(t, Equal(base64.StdEncoding.EncodeToString(raw), abcSHA256))
	require.True(t, Equal(base64.RawStdEncoding.EncodeToString(raw), abcSHA256))

	require.False(t, Equal("", abcSHA256))
	require.False(t, Equal("not a hash!", abcSHA256))
	require.False(t, Equal(abcSHA256[:62]+"00", abcSHA256))
	require.False(t, Equal(abcSHA256, "zz"))
}
