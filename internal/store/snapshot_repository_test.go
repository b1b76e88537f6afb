package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountForeignRows(t *testing.T) {
	assert.Zero(t, countForeignRows(nil, "biz_a"))
	assert.Zero(t, countForeignRows([]string{"biz_a", "biz_a"}, "biz_a"))

	// Rows a broken scoping predicate let through must be counted, not
	// masked by the predicate vouching for itself.
	assert.Equal(t, 2, countForeignRows([]string{"biz_a", "biz_b", "biz_ab"}, "biz_a"))
}
