package slackirc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTsLess(t *testing.T) {
	assert.True(t, TsLess("1700000000.000100", "1700000000.000200"))
	assert.True(t, TsLess("1699999999.999999", "1700000000.000000"))
	assert.False(t, TsLess("1700000000.000200", "1700000000.000100"))
	assert.False(t, TsLess("1700000000.000100", "1700000000.000100"))
	// micro parts of different width still order numerically
	assert.True(t, TsLess("1700000000.0001", "1700000000.000200"))
}

func TestCursorAdvance(t *testing.T) {
	s := NewStatus("")
	assert.False(t, s.Seen("C01", "1700000000.000100"))
	s.Advance("C01", "1700000000.000100")
	assert.True(t, s.Seen("C01", "1700000000.000100"))
	assert.True(t, s.Seen("C01", "1600000000.000000"))
	assert.False(t, s.Seen("C01", "1700000000.000101"))
	// cursor never moves back
	s.Advance("C01", "1600000000.000000")
	assert.True(t, s.Seen("C01", "1700000000.000100"))
	// other rooms are independent
	assert.False(t, s.Seen("C02", "1700000000.000100"))
}

func TestMarkDelivered(t *testing.T) {
	s := NewStatus("")
	assert.True(t, s.MarkDelivered("C01", "1700000000.000100"))
	// the same identity never delivers twice
	assert.False(t, s.MarkDelivered("C01", "1700000000.000100"))
	assert.False(t, s.MarkDelivered("C01", "1600000000.000000"))
	assert.True(t, s.MarkDelivered("C01", "1700000000.000200"))
	assert.True(t, s.MarkDelivered("C02", "1700000000.000100"))
}

func TestStatusRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	s := NewStatus(path)
	s.Advance("C01", "1700000000.000100")
	s.Advance("D01", "1700000001.000001")
	rules := NewRules(nil)
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	rules.AddAnnoy("U01", expiry)
	rules.AddAutoreact("U02", AutoreactRule{Probability: 0.5, Reaction: "wave", Expiry: expiry})

	require.NoError(t, s.Save(rules, []string{"rose"}))

	// a restart: fresh status and rules read the file back
	s2 := NewStatus(path)
	rules2 := NewRules(nil)
	s2.Load(rules2)
	assert.Equal(t, "1700000000.000100", s2.LastSeen("C01"))
	assert.Equal(t, "1700000001.000001", s2.LastSeen("D01"))
	annoy := rules2.AnnoySnapshot()
	require.Contains(t, annoy, "U01")
	assert.True(t, annoy["U01"].Equal(expiry))
	autoreact := rules2.AutoreactSnapshot()
	require.Contains(t, autoreact, "U02")
	require.Len(t, autoreact["U02"], 1)
	assert.Equal(t, "wave", autoreact["U02"][0].Reaction)

	// every message at or behind the restored cursor is already seen:
	// nothing is delivered twice across the composite run
	assert.True(t, s2.Seen("C01", "1700000000.000100"))
	assert.False(t, s2.Seen("C01", "1700000000.000101"))
}

func TestStatusCorruptFileIsNonFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	s := NewStatus(path)
	rules := NewRules(nil)
	// must not panic, must start fresh
	s.Load(rules)
	assert.Equal(t, "", s.LastSeen("C01"))
	assert.Empty(t, rules.AnnoySnapshot())
}

func TestStatusTruncatedLengthPrefix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	s := NewStatus(path)
	s.Advance("C01", "1.2")
	require.NoError(t, s.Save(nil, nil))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw[:len(raw)-2], 0o600))

	s2 := NewStatus(path)
	s2.Load(nil)
	assert.Equal(t, "", s2.LastSeen("C01"))
}

func TestStatusMissingFile(t *testing.T) {
	s := NewStatus(filepath.Join(t.TempDir(), "does-not-exist"))
	s.Load(nil)
	assert.Equal(t, "", s.LastSeen("C01"))
}

func TestStatusNoPath(t *testing.T) {
	s := NewStatus("")
	s.Advance("C01", "1.2")
	assert.NoError(t, s.Save(nil, nil))
	s.Load(nil)
	assert.Equal(t, "1.2", s.LastSeen("C01"))
}

func TestSaveWithTimeoutCompletes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status")
	s := NewStatus(path)
	s.Advance("C01", "1.2")
	s.SaveWithTimeout(nil, nil, time.Second)
	_, err := os.Stat(path)
	assert.NoError(t, err)
}
