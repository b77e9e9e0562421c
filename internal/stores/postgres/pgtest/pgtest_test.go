package pgtest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSearchPath(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db?search_path=s1", withSearchPath("postgres://u@h/db", "s1"))
	assert.Equal(t, "postgres://u@h/db?sslmode=disable&search_path=s1", withSearchPath("postgres://u@h/db?sslmode=disable", "s1"))
	assert.Equal(t, "host=h dbname=db search_path=s1", withSearchPath("host=h dbname=db", "s1"))
}
