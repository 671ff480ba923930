package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func TestDecodeJSONObject(t *testing.T) {
	obj, err := DecodeJSONObject[sample](strings.NewReader(`{"name":"pce","value":1.5}`))
	require.NoError(t, err)
	assert.Equal(t, "pce", obj.Name)
	assert.InDelta(t, 1.5, obj.Value, 0.0001)
}

func TestDecodeJSONObject_Invalid(t *testing.T) {
	_, err := DecodeJSONObject[sample](strings.NewReader(`{broken`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json: decode object")
}

func TestReadJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historique_gazpar.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","value":2}`), 0o644))

	obj, err := ReadJSONFile[sample](path)
	require.NoError(t, err)
	assert.Equal(t, "x", obj.Name)

	_, err = ReadJSONFile[sample](filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
