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

package log

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// prettyHandler renders single-line colored entries for development.
type prettyHandler struct {
	attrs []slog.Attr
	level slog.Leveler

	mu  *sync.Mutex
	out io.Writer
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.New(color.FgWhite, color.Bold).Sprint("DEBUG"),
	slog.LevelInfo:  color.New(color.FgBlue, color.Bold).Sprint("INFO"),
	slog.LevelWarn:  color.New(color.FgYellow, color.Bold).Sprint("WARN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERROR"),
}

var bufPool = sync.Pool{
	New: func() any {
		return &bytes.Buffer{}
	},
}

func newPrettyHandler(out io.Writer, level slog.Leveler) *prettyHandler {
	return &prettyHandler{
		out:   out,
		level: level,
		mu:    &sync.Mutex{},
	}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	bf := bufPool.Get().(*bytes.Buffer)
	bf.Reset()
	defer bufPool.Put(bf)

	fmt.Fprint(bf, color.New(color.Faint).Sprint(r.Time.Format(time.RFC3339)))
	fmt.Fprint(bf, " ")
	fmt.Fprint(bf, levelTags[r.Level])
	fmt.Fprint(bf, " ")

	name := ""
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "logger" {
			name = a.Value.String()
			return true
		}
		attrs = append(attrs, a)
		return true
	})

	for _, a := range attrs {
		if a.Key == "logger" {
			name = a.Value.String()
		}
	}

	if name != "" {
		fmt.Fprint(bf, color.New(color.Faint, color.Bold).Sprint(name))
		fmt.Fprint(bf, " ")
	}

	fmt.Fprint(bf, color.New(color.FgHiWhite).Sprint(r.Message))

	for _, a := range attrs {
		if a.Key == "logger" {
			continue
		}

		fmt.Fprint(bf, " ")

		value := color.New(color.FgWhite).Sprint(a.Value.String())
		if strings.Contains(a.Key, "err") {
			fmt.Fprint(bf, color.New(color.FgRed).Sprintf("%s=", a.Key)+value)
		} else {
			fmt.Fprint(bf, color.New(color.Faint).Sprintf("%s=", a.Key)+value)
		}
	}

	fmt.Fprint(bf, "\n")

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := io.Copy(h.out, bf)
	return err
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened; the pretty format is for human eyes,
	// not machine parsing.
	return h
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &prettyHandler{
		attrs: append(append([]slog.Attr{}, h.attrs...), attrs...),
		level: h.level,
		mu:    h.mu,
		out:   h.out,
	}
}
