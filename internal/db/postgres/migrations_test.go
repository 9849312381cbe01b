package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrationsOrdered(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.version, "версии идут подряд с 1")
		assert.NotEmpty(t, m.sql)
	}
}
