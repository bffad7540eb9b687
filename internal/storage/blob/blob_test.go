package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/tsforecast/pkg/errors"
)

func TestCompressRoundTrip(t *testing.T) {
	data := []byte(`{"kind":"ltsf-linear","state_dict":{}}`)
	compressed, err := Compress(data)
	require.NoError(t, err)
	assert.NotEqual(t, data, compressed)

	restored, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, restored)

	_, err = Decompress(data)
	assert.Error(t, err)
}

func TestValidateKey(t *testing.T) {
	for _, key := range []string{"model", "models/load.json", "a/b/c"} {
		assert.NoError(t, ValidateKey(key), key)
	}
	for _, key := range []string{"", "/etc/passwd", "..", "../escape", "a/../../b"} {
		assert.Error(t, ValidateKey(key), key)
	}
}

func TestCounters(t *testing.T) {
	c := New()
	c.Write(10)
	c.Write(5)
	c.Read(7)
	c.Delete()
	c.Failure()

	m := c.Snapshot()
	assert.Equal(t, int64(2), m.WriteOperations)
	assert.Equal(t, int64(15), m.BytesWritten)
	assert.Equal(t, int64(1), m.ReadOperations)
	assert.Equal(t, int64(7), m.BytesRead)
	assert.Equal(t, int64(1), m.DeleteOperations)
	assert.Equal(t, int64(1), m.ErrorCount)
}

func TestNotFound(t *testing.T) {
	err := NotFound("missing")
	assert.ErrorIs(t, err, errors.ErrModelNotFound)
	assert.Equal(t, errors.ErrorTypeStorage, errors.GetType(err))
}
