package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMainDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractMainDomain("www.example.com"))
	assert.Equal(t, "example.com", ExtractMainDomain("sub.test.example.com."))
	assert.Equal(t, "localhost", ExtractMainDomain("localhost"))
}

func TestExtractSubDomain(t *testing.T) {
	assert.Equal(t, "_acme-challenge.www", ExtractSubDomain("_acme-challenge.www.example.com", "example.com"))
	assert.Equal(t, "_acme-challenge", ExtractSubDomain("_acme-challenge.example.com.", "example.com"))
	assert.Equal(t, "@", ExtractSubDomain("example.com", "example.com"))
	assert.Equal(t, "other", ExtractSubDomain("other", "example.com"))
}

func TestMatchDomain(t *testing.T) {
	tests := []struct {
		cert, target string
		want         bool
	}{
		{"example.com", "example.com", true},
		{"Example.com", "example.COM", true},
		{"*.example.com", "www.example.com", true},
		{"*.example.com", "a.b.example.com", false},
		{"*.example.com", "example.com", false},
		{"www.example.com", "api.example.com", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchDomain(tt.cert, tt.target), "%s vs %s", tt.cert, tt.target)
	}
}

func TestIsValid(t *testing.T) {
	valid := []string{"example.com", "*.example.com", "a-b.example.co.uk", "bücher.example", "WWW.Example.com."}
	for _, d := range valid {
		assert.True(t, IsValid(d), d)
	}

	invalid := []string{"", "localhost", "exa mple.com", "-bad.example.com", "a..example.com", "*.*.example.com", "www.*.example.com"}
	for _, d := range invalid {
		assert.False(t, IsValid(d), d)
	}
}

func TestNormalize(t *testing.T) {
	n, err := Normalize("*.Bücher.Example")
	assert.NoError(t, err)
	assert.Equal(t, "*.xn--bcher-kva.example", n)
}

func TestFileNameAndDedupe(t *testing.T) {
	assert.Equal(t, "_.example.com", FileName("*.Example.com"))
	assert.Equal(t, []string{"a.example", "b.example"}, Dedupe([]string{"A.example", "b.example", "a.example", ""}))
	assert.Equal(t, "example.com", StripWildcard("*.example.com"))
}
