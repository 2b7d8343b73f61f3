package coopipc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCodecRoundTrip(t *testing.T) {
	codec := newDefaultCodec()

	for _, v := range []any{42, "hello", 3.14, []byte("raw-ish but via gob"), true} {
		enc, err := codec.Encode(v)
		require.NoError(t, err)
		dec, err := codec.Decode(enc)
		require.NoError(t, err)
		assert.Equal(t, v, dec)
	}
}

func TestRawCodecRequiresBytesOrString(t *testing.T) {
	codec := newRawCodec()

	enc, err := codec.Encode("abc")
	require.NoError(t, err)
	dec, err := codec.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), dec)

	_, err = codec.Encode(123)
	assert.True(t, errors.Is(err, ErrMisuse))
}

func TestRawCodecDecodeCopiesBuffer(t *testing.T) {
	codec := newRawCodec()
	src := []byte("mutate-me")
	dec, err := codec.Decode(src)
	require.NoError(t, err)

	src[0] = 'X'
	assert.Equal(t, byte('m'), dec.([]byte)[0], "decode must not alias the caller's buffer")
}

func TestCustomCodecRequiresBothFuncs(t *testing.T) {
	_, err := newCustomCodec(nil, nil)
	assert.True(t, errors.Is(err, ErrMisuse))

	_, err = newCustomCodec(func(v any) ([]byte, error) { return nil, nil }, nil)
	assert.True(t, errors.Is(err, ErrMisuse))
}

func TestRegisterCodecRejectsReservedNames(t *testing.T) {
	enc := func(v any) ([]byte, error) { return []byte("x"), nil }
	dec := func(b []byte) (any, error) { return string(b), nil }

	for _, name := range []string{"", "default", "raw"} {
		err := RegisterCodec(name, enc, dec)
		assert.True(t, errors.Is(err, ErrMisuse), "name %q should be rejected", name)
	}
}

func TestRegisterCodecThenLookup(t *testing.T) {
	enc := func(v any) ([]byte, error) { return []byte(v.(string)), nil }
	dec := func(b []byte) (any, error) { return string(b), nil }

	require.NoError(t, RegisterCodec("codec_test_upper", enc, dec))

	pair, ok := lookupCodec("codec_test_upper")
	require.True(t, ok)
	assert.Equal(t, CodecCustom, pair.Mode)
	assert.Equal(t, "codec_test_upper", pair.Name)

	out, err := pair.Encode("hi")
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), out)
}

func TestLookupCodecDefaultsAndRaw(t *testing.T) {
	pair, ok := lookupCodec("")
	require.True(t, ok)
	assert.Equal(t, CodecDefault, pair.Mode)

	pair, ok = lookupCodec("default")
	require.True(t, ok)
	assert.Equal(t, CodecDefault, pair.Mode)

	pair, ok = lookupCodec("raw")
	require.True(t, ok)
	assert.Equal(t, CodecRaw, pair.Mode)

	_, ok = lookupCodec("never-registered")
	assert.False(t, ok)
}

func TestCodecModeString(t *testing.T) {
	assert.Equal(t, "default", CodecDefault.String())
	assert.Equal(t, "raw", CodecRaw.String())
	assert.Equal(t, "custom", CodecCustom.String())
}
