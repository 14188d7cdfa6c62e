package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/NeuroPrep/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEvents(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sub1_eve.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRead(t *testing.T) {
	path := writeEvents(t, "# sample prev code\n1000 0 31\n1500\t0\t42\n\n2200 98\n")
	evts, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, []models.Event{{Sample: 1000, Code: 31}, {Sample: 1500, Code: 42}, {Sample: 2200, Code: 98}}, evts)
}

func TestReadErrors(t *testing.T) {
	_, err := Read(writeEvents(t, "# nothing\n"))
	assert.ErrorIs(t, err, ErrNoEvents)

	_, err = Read(writeEvents(t, "1 2 3 4\n"))
	assert.ErrorContains(t, err, "want 2 or 3 columns")

	_, err = Read(writeEvents(t, "10 x\n"))
	assert.ErrorContains(t, err, "code")

	_, err = Read(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestToAnnotations(t *testing.T) {
	evts := []models.Event{{Sample: 500, Code: 32}, {Sample: 250, Code: 31}, {Sample: 600, Code: 7}}
	dict := map[int]string{31: "con/MC/s", 32: "inc/MC/s"}

	anns, dropped := ToAnnotations(evts, dict, 250)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, []models.Annotation{
		{Onset: 1, Description: "con/MC/s"},
		{Onset: 2, Description: "inc/MC/s"},
	}, anns)
}

func TestParseDict(t *testing.T) {
	dict, err := ParseDict([]string{"31=con/MC/s", " 99 = wrong_resp ", ""})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{31: "con/MC/s", 99: "wrong_resp"}, dict)

	_, err = ParseDict([]string{"31"})
	assert.Error(t, err)
	_, err = ParseDict([]string{"x=y"})
	assert.Error(t, err)
	_, err = ParseDict(nil)
	assert.Error(t, err)
}
