package changestamp

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geodepot/geodepot/pkg/logger"
)

type recordedExec struct {
	sql  string
	args []any
}

// fakeExecer captures stamp upserts without a database.
type fakeExecer struct {
	execs []recordedExec
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, recordedExec{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestTouchTxReplacesToken(t *testing.T) {
	s := NewService(nil, nil, logger.New("changestamp-test", "dev"))
	exec := &fakeExecer{}
	ns := int64(7)

	first, err := s.TouchTx(context.Background(), exec, &ns, "geographies")
	require.NoError(t, err)
	second, err := s.TouchTx(context.Background(), exec, &ns, "geographies")
	require.NoError(t, err)

	// Tokens are opaque replacements, never derived from the previous one.
	assert.NotEqual(t, uuid.Nil, first)
	assert.NotEqual(t, uuid.Nil, second)
	assert.NotEqual(t, first, second)

	require.Len(t, exec.execs, 2)
	for i, want := range []uuid.UUID{first, second} {
		assert.Contains(t, exec.execs[i].sql, "ON CONFLICT (resource_table, namespace_id)")
		require.Len(t, exec.execs[i].args, 3)
		assert.Equal(t, "geographies", exec.execs[i].args[0])
		assert.Equal(t, &ns, exec.execs[i].args[1])
		assert.Equal(t, want, exec.execs[i].args[2])
	}
}

func TestTouchTxScopesRowPerNamespaceAndTable(t *testing.T) {
	s := NewService(nil, nil, logger.New("changestamp-test", "dev"))
	exec := &fakeExecer{}
	ns := int64(7)

	_, err := s.TouchTx(context.Background(), exec, &ns, "geographies")
	require.NoError(t, err)
	_, err = s.TouchTx(context.Background(), exec, &ns, "geo_set_versions")
	require.NoError(t, err)
	_, err = s.TouchTx(context.Background(), exec, nil, "namespaces")
	require.NoError(t, err)

	require.Len(t, exec.execs, 3)
	assert.Equal(t, "geographies", exec.execs[0].args[0])
	assert.Equal(t, "geo_set_versions", exec.execs[1].args[0])
	assert.Equal(t, "namespaces", exec.execs[2].args[0])
	assert.Nil(t, exec.execs[2].args[1])
}

func TestInvalidateWithoutCacheIsNoOp(t *testing.T) {
	s := NewService(nil, nil, logger.New("changestamp-test", "dev"))
	ns := int64(3)

	// Must not panic when no cache is configured.
	s.Invalidate(context.Background(), &ns, "geographies")
	s.Invalidate(context.Background(), nil, "namespaces")
}

func TestCacheKey(t *testing.T) {
	ns := int64(12)
	assert.Equal(t, "changestamp:12:geographies", cacheKey(&ns, "geographies"))
	assert.Equal(t, "changestamp:global:localities", cacheKey(nil, "localities"))

	other := int64(13)
	assert.NotEqual(t, cacheKey(&ns, "geographies"), cacheKey(&other, "geographies"))
	assert.NotEqual(t, cacheKey(&ns, "geographies"), cacheKey(&ns, "geo_layers"))
}
