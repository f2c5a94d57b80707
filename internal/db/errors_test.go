package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/surrealdb/surrealdb.go"
)

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantIs  error
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{
			name:   "transaction conflict",
			err:    fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "Transaction conflict: resource busy"}),
			wantIs: ErrTransactionConflict,
		},
		{name: "other", err: errors.New("connection reset")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError(tt.err)
			if tt.wantNil {
				assert.NoError(t, got)
				return
			}
			if tt.wantIs != nil {
				assert.ErrorIs(t, got, tt.wantIs)
				return
			}
			assert.Equal(t, tt.err, got)
		})
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "222262092", recordKey(222262092))
	assert.Equal(t, "contract_500", postKey(models.KindContract, 500))
}
