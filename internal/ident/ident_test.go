package ident_test

import (
	"testing"

	"github.com/eventlake/ingestcore/internal/ident"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard(t *testing.T) {
	for _, ok := range []string{"a", "A_1", "demo_bronze", "os_events_raw"} {
		assert.NoErrorf(t, ident.Guard(ok), "expected %q to be valid", ok)
	}

	for _, bad := range []string{"", "a-b", "a.b", "a b", "a;drop table x", "a`b", "a'b"} {
		assert.Errorf(t, ident.Guard(bad), "expected %q to be rejected", bad)
	}
}

func TestQuote(t *testing.T) {
	q, err := ident.Quote("demo_bronze")
	require.NoError(t, err)
	assert.Equal(t, "`demo_bronze`", q)

	_, err = ident.Quote("demo; DROP TABLE x")
	assert.ErrorIs(t, err, ident.ErrInvalid)
}

func TestQualifiedQuote(t *testing.T) {
	q, err := ident.QualifiedQuote("demo_bronze", "os_events_raw")
	require.NoError(t, err)
	assert.Equal(t, "`demo_bronze`.`os_events_raw`", q)

	q, err = ident.QualifiedQuote("demo_bronze", "other_db.other_table")
	require.NoError(t, err)
	assert.Equal(t, "`other_db`.`other_table`", q)

	_, err = ident.QualifiedQuote("demo_bronze", "bad-table")
	assert.Error(t, err)
}
