// Copyright (c) 2026.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Package otelutils guards the OTLP export path. Upstream response
// fragments end up in span attributes and error messages, and a
// single invalid UTF-8 string fails the whole export batch.
package otelutils

import (
	"strings"
	"unicode/utf8"
)

// sanitize replaces invalid byte sequences with the Unicode
// replacement character.
func sanitize(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	return strings.ToValidUTF8(s, "�")
}

type sanitizedError struct {
	err error
}

func (e sanitizedError) Error() string { return sanitize(e.err.Error()) }
func (e sanitizedError) Unwrap() error { return e.err }

func sanitizeErr(err error) error {
	if err == nil || utf8.ValidString(err.Error()) {
		return err
	}

	return sanitizedError{err: err}
}
