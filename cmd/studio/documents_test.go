package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marriagesignal/studio/internal/document"
)

const legacyDocument = `{
	"version": 1.3,
	"title": "옛 프로젝트",
	"characters": [{"id": "c1", "name": "하준"}],
	"cutscenes": [
		{"duration": 2, "autoAdjustDuration": true, "imagePrompt": "@하준 at desk",
		 "dialogues": [{"id": "d1", "charId": "c1", "text": "시작", "audioDuration": 1.2, "postDelay": 0.5}]},
		{"duration": 3, "imagePrompt": "city at night"}
	]
}`

func writeLegacy(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.json")
	require.NoError(t, os.WriteFile(path, []byte(legacyDocument), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestTimingCommandRewritesDocument(t *testing.T) {
	path := writeLegacy(t)

	out := execute(t, "timing", path)
	assert.Contains(t, out, "total 4.7s over 2 cuts")

	res, err := loadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, document.CurrentVersion, res.Project.Version)
	assert.Equal(t, 1.7, res.Project.Cuts[0].Duration)
}

func TestMigrateCommandWritesCopy(t *testing.T) {
	path := writeLegacy(t)
	target := filepath.Join(filepath.Dir(path), "upgraded.json")

	out := execute(t, "migrate", path, "--output", target)
	assert.True(t, strings.HasPrefix(out, "upgraded.json: version 1.3 -> "))

	original, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, legacyDocument, string(original))

	res, err := loadDocument(target)
	require.NoError(t, err)
	require.Len(t, res.Project.Cuts[0].Shots, 1)
	assert.Equal(t, document.CurrentVersion, res.StoredVersion)
}

func TestExportCommandSubtitles(t *testing.T) {
	path := writeLegacy(t)

	out := execute(t, "export", path, "--format", "vtt", "--output", "")
	assert.True(t, strings.HasPrefix(out, "WEBVTT"))
	assert.Contains(t, out, "<v 하준>시작")
}

func TestLoadDocumentErrors(t *testing.T) {
	_, err := loadDocument(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("[1,2]"), 0o644))
	_, err = loadDocument(bad)
	assert.ErrorIs(t, err, document.ErrMalformed)
}
