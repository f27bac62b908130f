package http1

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_FieldBlockLookup(t *testing.T) {
	ch, _ := newParserChannel()
	block := NewFieldBlock(ch)
	block.Reset(0)

	pos := 0
	add := func(name, value string) {
		feed(ch, name+":"+value+"\r\n")
		block.AddLine(pos, pos+len(name), pos+len(name)+1, pos+len(name)+1+len(value))
		pos += len(name) + len(value) + 3
	}
	add("Host", " example.com")
	add("Accept", " text/html")
	add("X-Tag", " one ")
	add("x-tag", "\ttwo\t")

	assert.Equal(t, 4, block.LinesCount())
	assert.True(t, block.HasField("host"))
	assert.True(t, block.HasField("HOST"))
	assert.False(t, block.HasField("Hos"))
	assert.False(t, block.HasField(""))

	assert.Equal(t, 2, block.FieldCount("X-TAG"))
	assert.Equal(t, "one", string(block.FieldValue("X-Tag", 1)))
	assert.Equal(t, "two", string(block.FieldValue("X-Tag", 2)))
	assert.Nil(t, block.FieldValue("X-Tag", 3))
	assert.Equal(t, "example.com", string(block.FieldValue("Host", 1)))
	assert.Nil(t, block.FieldValue("Missing", 1))
}

func Test_FieldBlockEmptyValues(t *testing.T) {
	ch, _ := newParserChannel()
	block := NewFieldBlock(ch)
	block.Reset(0)

	feed(ch, "X-Empty:\r\n")
	block.AddLine(0, 7, 8, 8)
	feed(ch, "X-Blank:   \r\n")
	block.AddLine(10, 17, 18, 21)

	assert.True(t, block.HasField("X-Empty"))
	assert.Nil(t, block.FieldValue("X-Empty", 1))
	assert.True(t, block.HasField("X-Blank"))
	assert.Nil(t, block.FieldValue("X-Blank", 1))
}

func Test_FieldBlockReset(t *testing.T) {
	ch, _ := newParserChannel()
	block := NewFieldBlock(ch)
	block.Reset(0)
	feed(ch, "A: 1\r\n")
	block.AddLine(0, 1, 2, 4)
	assert.Equal(t, 1, block.LinesCount())

	block.Reset(6)
	assert.Equal(t, 0, block.LinesCount())
	assert.False(t, block.HasField("A"))
}
