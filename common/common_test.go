package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestURLToFilePath tests URL to filesystem path conversion
func TestURLToFilePath(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "HTTPSWithPath",
			url:      "https://example.com/path/to/resource",
			expected: "example.com_path_to_resource",
		},
		{
			name:     "HTTPWithPath",
			url:      "http://api.service.com/v1/users",
			expected: "api.service.com_v1_users",
		},
		{
			name:     "NoProtocol",
			url:      "example.com/docs/guide.html",
			expected: "example.com_docs_guide.html",
		},
		{
			name:     "HTTPSSimple",
			url:      "https://example.com",
			expected: "example.com",
		},
		{
			name:     "HTTPSimple",
			url:      "http://example.com",
			expected: "example.com",
		},
		{
			name:     "ComplexPath",
			url:      "https://api.example.com/v2/users/123/profile",
			expected: "api.example.com_v2_users_123_profile",
		},
		{
			name:     "WithPort",
			url:      "https://localhost:8080/api/test",
			expected: "localhost:8080_api_test",
		},
		{
			name:     "OtherProtocol",
			url:      "ftp://files.example.com/data",
			expected: "ftp:__files.example.com_data",
		},
		{
			name:     "TrailingSlash",
			url:      "https://example.com/path/",
			expected: "example.com_path_",
		},
		{
			name:     "MultipleSlashes",
			url:      "https://example.com//path//to///resource",
			expected: "example.com__path__to___resource",
		},
		{
			name:     "DomainOnly",
			url:      "https://example.com",
			expected: "example.com",
		},
		{
			name:     "EmptyString",
			url:      "",
			expected: "",
		},
		{
			name:     "QueryParameters",
			url:      "https://example.com/search?q=test&page=1",
			expected: "example.com_search?q=test&page=1",
		},
		{
			name:     "Fragment",
			url:      "https://example.com/docs#section1",
			expected: "example.com_docs#section1",
		},
		{
			name:     "ResourceKeyUnchanged",
			url:      "orders:daily_summary",
			expected: "orders:daily_summary",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := URLToFilePath(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// TestURLToFilePath_EdgeCases tests edge cases
func TestURLToFilePath_EdgeCases(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{
			name:     "OnlyHTTPS",
			url:      "https://",
			expected: "",
		},
		{
			name:     "OnlyHTTP",
			url:      "http://",
			expected: "",
		},
		{
			name:     "SingleSlash",
			url:      "/",
			expected: "_",
		},
		{
			name:     "MultipleProtocols",
			url:      "https://http://example.com",
			expected: "example.com",
		},
		{
			name:     "MixedCase",
			url:      "HTTPS://EXAMPLE.COM/PATH",
			expected: "HTTPS:__EXAMPLE.COM_PATH",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := URLToFilePath(tt.url)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// BenchmarkURLToFilePath benchmarks URL conversion
func BenchmarkURLToFilePath(b *testing.B) {
	url := "https://api.example.com/v1/users/123/profile"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = URLToFilePath(url)
	}
}

// BenchmarkURLToFilePath_Short benchmarks short URL conversion
func BenchmarkURLToFilePath_Short(b *testing.B) {
	url := "https://example.com"
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = URLToFilePath(url)
	}
}
