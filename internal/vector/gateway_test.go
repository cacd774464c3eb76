package vector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVecLiteral(t *testing.T) {
	assert.Equal(t, "[0,1,-2.5]", vecLiteral([]float32{0, 1, -2.5}))
	assert.Equal(t, "[]", vecLiteral(nil))
}

func TestChunkStrings(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	chunks := chunkStrings(ids, 2)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, chunks)

	assert.Nil(t, chunkStrings(nil, 2))
	assert.Equal(t, [][]string{{"a"}}, chunkStrings([]string{"a"}, 1000))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_done\\`, escapeLike(`100%_done\`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

func TestValidTableName(t *testing.T) {
	assert.True(t, validTableName("colligo_vectors"))
	assert.True(t, validTableName("t2"))
	assert.False(t, validTableName(""))
	assert.False(t, validTableName("2bad"))
	assert.False(t, validTableName("drop table"))
	assert.False(t, validTableName(`x";--`))
}
