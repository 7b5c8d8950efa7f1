package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"v2.0 release", "v20-release"},
		{"  Trimmed  ", "trimmed"},
		{"Café & Thé", "cafe-the"},
		{"already-slugged", "already-slugged"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.in), tt.in)
	}
}

func TestSplitName(t *testing.T) {
	first, last := SplitName("Xavier Damman")
	assert.Equal(t, "Xavier", first)
	assert.Equal(t, "Damman", last)

	first, last = SplitName("Plato")
	assert.Equal(t, "Plato", first)
	assert.Equal(t, "", last)

	first, last = SplitName("")
	assert.Equal(t, "", first)
	assert.Equal(t, "", last)
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Alice", Capitalize("alice"))
	assert.Equal(t, "", Capitalize(" "))
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "user", Pluralize(1, "user"))
	assert.Equal(t, "users", Pluralize(2, "user"))
	assert.Equal(t, "users", Pluralize(0, "user"))
}
