// Package identity derives stable idempotency keys for a person from the noisy
// fields extracted out of one portal row.
package identity

import (
	"strings"
	"unicode"
)

// Record holds the signals extracted for one person.
type Record struct {
	Name     string
	Email    string
	Document string // digits only
	Gender   string
}

// NewRecord trims every field and keeps only the digits of the document.
func NewRecord(name, email, document, gender string) Record {
	email = strings.TrimSpace(email)
	email = strings.TrimSpace(strings.TrimPrefix(email, "mailto:"))
	return Record{
		Name:     strings.TrimSpace(name),
		Email:    email,
		Document: DigitsOnly(document),
		Gender:   strings.TrimSpace(gender),
	}
}

// Empty reports whether no identity signal was extracted at all.
func (r Record) Empty() bool {
	return r.Name == "" && r.Email == "" && r.Document == "" && r.Gender == ""
}

// EmailLocal returns the part of the email before '@', or "" when the email has none.
func (r Record) EmailLocal() string {
	return EmailLocal(r.Email)
}

// String is used in log lines.
func (r Record) String() string {
	email, doc := r.Email, r.Document
	if email == "" {
		email = "-"
	}
	if doc == "" {
		doc = "-"
	}
	return r.Name + " | " + email + " | doc=" + doc
}

// EmailLocal returns the local part of an email address.
func EmailLocal(email string) string {
	local, _, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return strings.TrimSpace(local)
}

// DigitsOnly drops every non-digit rune.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Field is the result of one extraction attempt.
type Field struct {
	Value string
	Found bool
}

// Found wraps a non-empty value. An empty value is reported as not found.
func Found(v string) Field {
	v = strings.TrimSpace(v)
	return Field{Value: v, Found: v != ""}
}

// NotFound is the zero Field.
func NotFound() Field {
	return Field{}
}

// Or returns f when found, otherwise the fallback value.
func (f Field) Or(fallback string) string {
	if f.Found {
		return f.Value
	}
	return fallback
}

// FirstFound runs the extractors in order and returns the first Found result.
func FirstFound[T any](in T, chain ...func(T) Field) Field {
	for _, extract := range chain {
		if f := extract(in); f.Found {
			return f
		}
	}
	return NotFound()
}

func isSlugKeep(r rune) bool {
	return r == ' ' || r == '-' || r == '_' || r == '.'
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
