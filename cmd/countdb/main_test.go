package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/countdb"
	"github.com/andreyvit/countdb/interchange"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--engine", "bolt"}, args...))
	err := cmd.Execute()
	if stderr.Len() > 0 {
		t.Logf("stderr: %s", stderr.String())
	}
	return stdout.String(), err
}

func boltOptions() countdb.Options {
	opt := countdb.DefaultOptions()
	opt.Engine = countdb.EngineBolt
	return opt
}

var lexRecords = []interchange.LexRecord{
	{S: 1, T: 2, Numer: 0.5, Denom: 1.5},
	{S: 3, T: 4, Numer: -3.25, Denom: 2.75},
}

const lexText = "1 2 0.5 1.5\n3 4 -3.25 2.75\n"

func writeLegacyFile(t *testing.T, prefix string) {
	t.Helper()
	var buf bytes.Buffer
	lw := interchange.NewLexWriter(&buf)
	for _, r := range lexRecords {
		require.NoError(t, lw.Write(r))
	}
	require.NoError(t, lw.Flush())
	require.NoError(t, os.WriteFile(countdb.LexLegacyPath(prefix), buf.Bytes(), 0o644))
}

func TestRebuildAndDumpText(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "corpus")
	writeLegacyFile(t, prefix)

	out, err := run(t, "rebuild", "--prefix", prefix)
	require.NoError(t, err)
	assert.Equal(t, countdb.LexStorePath(prefix)+": 4 entries\n", out)

	out, err = run(t, "dump", "--prefix", prefix)
	require.NoError(t, err)
	assert.Equal(t, lexText, out)
}

func TestDumpBinMatchesLegacyFile(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "corpus")
	writeLegacyFile(t, prefix)
	_, err := run(t, "rebuild", "--prefix", prefix)
	require.NoError(t, err)

	outPath := filepath.Join(t.TempDir(), "out.hmm_lexnd")
	_, err = run(t, "dump", "--prefix", prefix, "--format", "bin", "--out", outPath)
	require.NoError(t, err)

	want, err := os.ReadFile(countdb.LexLegacyPath(prefix))
	require.NoError(t, err)
	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRebuildFromText(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "corpus")
	textPath := filepath.Join(dir, "lex.txt")
	require.NoError(t, os.WriteFile(textPath, []byte(lexText), 0o644))

	out, err := run(t, "rebuild", "--prefix", prefix, "--text", textPath)
	require.NoError(t, err)
	assert.Equal(t, countdb.LexStorePath(prefix)+": 4 entries\n", out)

	out, err = run(t, "dump", "--prefix", prefix)
	require.NoError(t, err)
	assert.Equal(t, lexText, out)
}

func TestRebuildFromBadTextDropsStore(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "corpus")
	textPath := filepath.Join(dir, "lex.txt")
	require.NoError(t, os.WriteFile(textPath, []byte("1 2 0.5 1.5\n3 x\n"), 0o644))

	_, err := run(t, "rebuild", "--prefix", prefix, "--text", textPath)
	require.Error(t, err)
	assert.False(t, countdb.Exists(countdb.LexStorePath(prefix), boltOptions()))
}

func TestSnapshotRestore(t *testing.T) {
	for _, comp := range []string{"none", "zstd", "lz4"} {
		t.Run(comp, func(t *testing.T) {
			dir := t.TempDir()
			prefix := filepath.Join(dir, "corpus")
			writeLegacyFile(t, prefix)
			_, err := run(t, "rebuild", "--prefix", prefix)
			require.NoError(t, err)

			snap := filepath.Join(dir, "lex.snap")
			_, err = run(t, "dump", "--prefix", prefix, "--format", "snapshot", "--compression", comp, "--out", snap)
			require.NoError(t, err)

			other := filepath.Join(dir, "copy")
			out, err := run(t, "restore", "--prefix", other, "--kind", "lex", "--in", snap)
			require.NoError(t, err)
			assert.Equal(t, countdb.LexStorePath(other)+": restored 4 entries\n", out)

			out, err = run(t, "dump", "--prefix", other)
			require.NoError(t, err)
			assert.Equal(t, lexText, out)
		})
	}
}

func TestRestoreRejectsOtherKind(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "corpus")
	writeLegacyFile(t, prefix)
	_, err := run(t, "rebuild", "--prefix", prefix)
	require.NoError(t, err)

	snap := filepath.Join(dir, "lex.snap")
	_, err = run(t, "dump", "--prefix", prefix, "--format", "snapshot", "--out", snap)
	require.NoError(t, err)

	_, err = run(t, "restore", "--prefix", prefix, "--kind", "phrase", "--in", snap)
	require.ErrorIs(t, err, countdb.ErrIncompatible)
	assert.False(t, countdb.Exists(countdb.PhraseStorePath(prefix), boltOptions()))
}

func populatePhraseTable(t *testing.T, prefix string) {
	t.Helper()
	pt, err := countdb.InitPhraseTable(prefix, boltOptions())
	require.NoError(t, err)
	require.NoError(t, pt.AddSrcInfo(countdb.Key{1}, 2))
	require.NoError(t, pt.AddSrcTrgInfo(countdb.Key{1}, 2, 2))
	require.NoError(t, pt.AddSrcTrgInfo(countdb.Key{1, 2}, 3, 1))
	require.NoError(t, pt.Close())
}

func TestDumpPhraseText(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "corpus")
	populatePhraseTable(t, prefix)

	out, err := run(t, "dump", "--prefix", prefix, "--kind", "phrase")
	require.NoError(t, err)
	assert.Equal(t, "1\t2\t2\n1 2\t3\t1\n1\t*\t2\n", out)

	_, err = run(t, "dump", "--prefix", prefix, "--kind", "phrase", "--format", "bin")
	assert.ErrorContains(t, err, "bin format is not available for phrase tables")
}

func TestDumpDebug(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "corpus")
	populatePhraseTable(t, prefix)

	out, err := run(t, "dump", "--prefix", prefix, "--kind", "phrase", "--format", "debug")
	require.NoError(t, err)
	assert.Contains(t, out, countdb.PhraseStorePath(prefix)+" (phrase, 5 rows)")
}

func TestStats(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "corpus")
	writeLegacyFile(t, prefix)
	_, err := run(t, "rebuild", "--prefix", prefix)
	require.NoError(t, err)

	out, err := run(t, "stats", "--prefix", prefix, "--all", "--metrics")
	require.NoError(t, err)
	lexName := countdb.LexStorePath(prefix)
	assert.Contains(t, out, lexName+" (lex): 4 entries, created ")
	assert.Contains(t, out, `countdb_open_cursors{store="`+lexName+`"} 0`)
	assert.Contains(t, out, countdb.PhraseStorePath(prefix)+" (phrase): absent\n")

	populatePhraseTable(t, prefix)
	out, err = run(t, "stats", "--prefix", prefix, "--kind", "phrase")
	require.NoError(t, err)
	assert.Contains(t, out, countdb.PhraseStorePath(prefix)+" (phrase): 3 entries, created ")
}

func TestErrors(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "missing")

	_, err := run(t, "dump", "--prefix", prefix)
	assert.ErrorIs(t, err, countdb.ErrNotFound)

	_, err = run(t, "stats", "--prefix", prefix)
	assert.ErrorIs(t, err, countdb.ErrNotFound)

	_, err = run(t, "dump")
	assert.ErrorContains(t, err, `required flag(s) "prefix" not set`)

	_, err = run(t, "dump", "--prefix", prefix, "--kind", "bogus")
	assert.ErrorContains(t, err, `unknown table kind "bogus"`)

	_, err = run(t, "--engine", "leveldb", "dump", "--prefix", prefix)
	assert.ErrorContains(t, err, `unknown engine "leveldb"`)

	_, err = run(t, "rebuild", "--prefix", prefix)
	assert.Error(t, err)
	assert.False(t, countdb.Exists(countdb.LexStorePath(prefix), boltOptions()))
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "corpus")
	writeLegacyFile(t, prefix)

	cfg := filepath.Join(dir, "countdb.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("engine: memory\nmax_open_files: 50\n"), 0o644))

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", cfg, "rebuild", "--prefix", prefix})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, countdb.LexStorePath(prefix)+": 4 entries\n", stdout.String())

	memOpt := countdb.DefaultOptions()
	memOpt.Engine = countdb.EngineMemory
	assert.True(t, countdb.Exists(countdb.LexStorePath(prefix), memOpt))
	assert.False(t, countdb.Exists(countdb.LexStorePath(prefix), boltOptions()))
	require.NoError(t, countdb.Drop(countdb.LexStorePath(prefix), memOpt))
}
