package model

import "strings"

// NormalizeText trims s and maps the empty result to nil.
func NormalizeText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// NormalizePtr is NormalizeText for optional input.
func NormalizePtr(s *string) *string {
	if s == nil {
		return nil
	}
	return NormalizeText(*s)
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// String returns a pointer to s. Handy for literals in tests and handlers.
func String(s string) *string {
	return &s
}
