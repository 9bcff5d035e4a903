package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenrag/internal/config"
	"greenrag/internal/domain"
	"greenrag/internal/service"
)

const futureClaimsQuery = "future environmental performance implementation plan"

// clearEnv blanks every GREENRAG_* override for the test duration.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		config.EnvSource, config.EnvIndexDir, config.EnvIndexBackend,
		config.EnvEmbedder, config.EnvEmbedModel, config.EnvDefaultK,
	} {
		t.Setenv(k, "")
	}
}

// writeDirective writes an eleven-article text corpus, one article per page.
func writeDirective(t *testing.T, dir string) string {
	t.Helper()
	var text strings.Builder
	for _, body := range []string{
		"Article 1 Subject matter and scope of the directive",
		"Article 2 Definitions of environmental claim and label",
		"Article 3 Substantiation of explicit environmental claims",
		"Article 4 Substantiation of comparative claims",
		"Article 5 Communication of explicit claims",
		"Article 6 Communication of comparative claims",
		"Article 7 Claims on future environmental performance need an implementation plan",
		"Article 8 Requirements for environmental labelling schemes",
		"Article 9 Review of substantiation",
		"Article 10 Verification and certification",
		"Article 11 Establishment of verification procedures",
	} {
		text.WriteString(body + "\f")
	}
	path := filepath.Join(dir, "directive.txt")
	require.NoError(t, os.WriteFile(path, []byte(text.String()), 0o644))
	return path
}

// writeConfig writes a hashing/sqlite config pointing at source and returns its path.
func writeConfig(t *testing.T, dir, source string) string {
	t.Helper()
	body := fmt.Sprintf(`source:
  path: %s
index:
  backend: sqlite
  path: %s
embedder:
  type: hashing
`, source, filepath.Join(dir, "index_db"))
	path := filepath.Join(dir, "greenrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func exitCode(err error) int {
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

// --- Tests ---

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"configuration", fmt.Errorf("load: %w", domain.ErrConfiguration), exitConfiguration},
		{"invalid k", domain.ErrInvalidK, exitConfiguration},
		{"provider", domain.NewProviderError("openai", "embed", errors.New("timeout")), exitProvider},
		{"other", errors.New("disk full"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(classify(tt.err)))
		})
	}

	assert.NoError(t, classify(nil))

	wrapped := &exitErr{code: exitProvider, err: errors.New("x")}
	assert.Same(t, wrapped, classify(wrapped))
}

func TestSearch_BuildsAndPrintsPassages(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	out, err := run(t, "--config", cfg, "search", futureClaimsQuery, "-k", "2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[Result 1 - Article 7 - Page 7]\n"), out)
	assert.Contains(t, out, "[Result 2 - ")
	assert.Equal(t, 1, strings.Count(out, service.Delimiter))

	_, err = os.Stat(filepath.Join(dir, "index_db", "index.db"))
	assert.NoError(t, err)
}

func TestSearch_DefaultKFromConfig(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	out, err := run(t, "--config", cfg, "search", futureClaimsQuery)
	require.NoError(t, err)
	assert.Equal(t, service.DefaultK-1, strings.Count(out, service.Delimiter))
	assert.NotContains(t, out, fmt.Sprintf("[Result %d ", service.DefaultK+1))
}

func TestSearch_Brief(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	out, err := run(t, "--config", cfg, "search", futureClaimsQuery, "-k", "1", "--brief")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "[Result 1 - Article 7 - Page 7]\n"), out)
}

func TestSearch_InvalidK_ExitsCode2(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	_, err := run(t, "--config", cfg, "search", "recyclable", "-k", "0")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidK)
	assert.Equal(t, exitConfiguration, exitCode(err))

	// Validation happens before any index work.
	_, statErr := os.Stat(filepath.Join(dir, "index_db"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestIndexBuild_MissingSource_ExitsCode2(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, filepath.Join(dir, "missing.pdf"))

	_, err := run(t, "--config", cfg, "index", "build")
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestIndexStatus(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	out, err := run(t, "--config", cfg, "index", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "index:     not built")

	out, err = run(t, "--config", cfg, "index", "build")
	require.NoError(t, err)
	assert.Contains(t, out, "model:     hashing-1024 (dimension 1024)")
	assert.Contains(t, out, "chunks:    11")

	out, err = run(t, "--config", cfg, "index", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "chunks:    11")
	assert.NotContains(t, out, "not built")
}

func TestIndexRebuild_NewBuildID(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg := writeConfig(t, dir, writeDirective(t, dir))

	buildLine := func(out string) string {
		for _, line := range strings.Split(out, "\n") {
			if strings.HasPrefix(line, "build:") {
				return line
			}
		}
		return ""
	}

	first, err := run(t, "--config", cfg, "index", "build")
	require.NoError(t, err)
	again, err := run(t, "--config", cfg, "index", "build")
	require.NoError(t, err)
	assert.Equal(t, buildLine(first), buildLine(again))

	rebuilt, err := run(t, "--config", cfg, "index", "rebuild")
	require.NoError(t, err)
	assert.NotEmpty(t, buildLine(rebuilt))
	assert.NotEqual(t, buildLine(first), buildLine(rebuilt))
}

func TestBadConfig_ExitsCode2(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "greenrag.yaml")
	require.NoError(t, os.WriteFile(path, []byte("index:\n  backend: cassandra\n"), 0o644))

	_, err := run(t, "--config", path, "index", "status")
	require.Error(t, err)
	assert.Equal(t, exitConfiguration, exitCode(err))
}

func TestFormatBrief(t *testing.T) {
	results := domain.QueryResult{
		{Chunk: domain.NewChunk("Long passage. With two sentences.", 3, "Article 2"), Rank: 1},
	}
	var gotN int
	summarize := func(text, query string, n int) string {
		gotN = n
		return "short"
	}
	out := formatBrief(results, "claims", summarize, 2)
	assert.Equal(t, "[Result 1 - Article 2 - Page 3]\nshort\n", out)
	assert.Equal(t, 2, gotN)
	assert.Equal(t, "Long passage. With two sentences.", results[0].Chunk.Content)

	assert.Equal(t, service.NoResultsMessage, formatBrief(nil, "claims", summarize, 2))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "0123abcd", shortID("0123abcd-ef45-6789"))
	assert.Equal(t, "abc", shortID("abc"))
}
