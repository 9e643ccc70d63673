package utils

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return hex.EncodeToString(hash[:])
}

// NormalizeQuery lowercases and trims a query so equivalent questions share a key.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// QueryKey is the content address of a query: md5 of its normalized form.
func QueryKey(query string) string {
	return HashString(NormalizeQuery(query))
}

// Words splits text on whitespace.
func Words(text string) []string {
	return strings.Fields(text)
}
