package artifact

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCSV_Semicolon(t *testing.T) {
	input := "Date;Index;Conso;Type\n2024-01-10T08:00:00; 1000 ;5;Mesuré\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), WaterCSV)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"2024-01-10T08:00:00", "1000", "5", "Mesuré"}, rows[1])
}

func TestReadCSV_VariableFields(t *testing.T) {
	input := "a;b\n1;2;3\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 3)
}

func TestReadCSV_MalformedRow(t *testing.T) {
	input := "a;b\n\"unterminated;c\n"
	rows, err := ReadCSV(context.Background(), strings.NewReader(input), CSVOptions{Delimiter: ';'})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: read row")
	assert.Len(t, rows, 1)
}

func TestReadCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a;b;c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows, err := ReadCSV(ctx, strings.NewReader(sb.String()), WaterCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context cancelled")
	assert.Empty(t, rows)
}

func TestDecode_UTF8WithBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("Mesuré")...)
	out, err := io.ReadAll(Decode(data))
	require.NoError(t, err)
	assert.Equal(t, "Mesuré", string(out))
}

func TestDecode_Windows1252(t *testing.T) {
	// "Estimé" with é encoded as 0xE9.
	data := []byte{'E', 's', 't', 'i', 'm', 0xE9}
	out, err := io.ReadAll(Decode(data))
	require.NoError(t, err)
	assert.Equal(t, "Estimé", string(out))
}

func TestReadCSVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "historique_jours_litres.csv")
	content := []byte("2024-01-10T08:00:00;1000;5;Mesur\xe9\n2024-01-11T08:00:00;1010;10;Mesur\xe9\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	rows, err := ReadCSVFile(context.Background(), path, WaterCSV)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Mesuré", rows[1][3])
}

func TestReadCSVFile_Missing(t *testing.T) {
	_, err := ReadCSVFile(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), WaterCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv: open")
}
