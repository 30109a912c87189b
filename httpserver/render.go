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

package httpserver

import (
	"encoding/json"
	"net/http"

	"go.gearno.de/x/panicf"
)

// RenderJSON writes v as a JSON response body with the given status
// code. Encoding failures panic and are turned into a 500 response by
// the server's recovery handler.
func RenderJSON(w http.ResponseWriter, statusCode int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		panicf.Panic("cannot marshal response body: %v", err)
	}

	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	if _, err := w.Write(buf); err != nil {
		panicf.Panic("cannot write response body: %v", err)
	}
}

// RenderText writes a plain text response body with the given status
// code.
func RenderText(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("content-type", "text/plain; charset=utf-8")
	w.WriteHeader(statusCode)

	if _, err := w.Write([]byte(body)); err != nil {
		panicf.Panic("cannot write response body: %v", err)
	}
}

// RenderError writes a JSON error envelope with the given status
// code.
func RenderError(w http.ResponseWriter, statusCode int, message string) {
	RenderJSON(
		w,
		statusCode,
		map[string]any{
			"success": false,
			"error":   message,
		},
	)
}
