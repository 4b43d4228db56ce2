package codec

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string    `cbor:"name"`
	Count uint64    `cbor:"count"`
	At    time.Time `cbor:"at"`
	Tags  map[string]string
}

func TestMarshal_IsDeterministic(t *testing.T) {
	v := sample{Name: "a", Count: 7, Tags: map[string]string{"z": "1", "a": "2", "m": "3"}}

	first, err := Marshal(v)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		again, err := Marshal(v)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestUnmarshal_PreservesNanoseconds(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	b, err := Marshal(sample{Name: "n", At: at})
	require.NoError(t, err)

	var got sample
	require.NoError(t, Unmarshal(b, &got))
	assert.True(t, at.Equal(got.At), "got %v", got.At)
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	var got sample
	assert.Error(t, Unmarshal([]byte{0xff, 0x00, 0x13}, &got))
}

func TestEncoderDecoder_Stream(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	require.NoError(t, enc.Encode(sample{Name: "one"}))
	require.NoError(t, enc.Encode(sample{Name: "two"}))

	dec := NewDecoder(&buf)
	var a, b sample
	require.NoError(t, dec.Decode(&a))
	require.NoError(t, dec.Decode(&b))
	assert.Equal(t, "one", a.Name)
	assert.Equal(t, "two", b.Name)
}

func TestUnmarshal_AnyUsesStringKeyedMaps(t *testing.T) {
	b, err := Marshal(map[string]any{"k": map[string]any{"n": 1}})
	require.NoError(t, err)

	var got any
	require.NoError(t, Unmarshal(b, &got))
	m, ok := got.(map[string]any)
	require.True(t, ok)
	_, ok = m["k"].(map[string]any)
	assert.True(t, ok)
}
