package recordschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRecord_AcceptsWellFormedRecord(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.ValidateRecord(map[string]interface{}{
		"id":            "abc123",
		"last_modified": int64(42),
	})
	assert.NoError(t, err)
}

func TestValidateRecord_RejectsMissingID(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.ValidateRecord(map[string]interface{}{"last_modified": int64(42)})
	assert.Error(t, err)
}

func TestValidateRecord_RejectsNonIntegerLastModified(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	err = v.ValidateRecord(map[string]interface{}{"id": "abc", "last_modified": "not-a-number"})
	assert.Error(t, err)
}

func TestValidateBundle_RequiresSignature(t *testing.T) {
	v, err := New()
	require.NoError(t, err)

	assert.NoError(t, v.ValidateBundle(map[string]interface{}{"signature": "deadbeef"}))
	assert.Error(t, v.ValidateBundle(map[string]interface{}{"x5u": "https://example.invalid/chain.pem"}))
}
