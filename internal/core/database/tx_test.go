package db

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConn_PrefersContextTx(t *testing.T) {
	pool, tx := new(sql.DB), new(sql.Tx)

	assert.Same(t, pool, conn(context.Background(), pool))
	assert.Same(t, tx, conn(withTx(context.Background(), tx), pool))

	_, ok := txFrom(withTx(context.Background(), nil))
	assert.False(t, ok, "a nil tx is not joined")
}
