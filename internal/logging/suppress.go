// Package logging wraps an slog.Handler to drop the small set of
// upstream library messages spec.md §6 names as noise, mirroring the
// teacher's pattern of wrapping a concern (server.withMetrics wraps
// http.HandlerFunc) rather than scattering an if-check at every call
// site that might log one of these lines.
package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// suppressed messages are dropped outright.
var suppressed = []string{
	"max delay reached. need to consume packet",
	"RTP: dropping old packet received too late",
	"track %d: codec frame size is not set",
}

// missedPacketsMessage is counted but never printed.
const missedPacketsMessage = "RTP: missed %d packets"

// SuppressingHandler filters the upstream noise list out of a base
// handler's stream and tallies (without printing) missed-packet records.
type SuppressingHandler struct {
	base    slog.Handler
	missed  *atomic.Uint64
}

// NewSuppressingHandler wraps base.
func NewSuppressingHandler(base slog.Handler) *SuppressingHandler {
	return &SuppressingHandler{base: base, missed: &atomic.Uint64{}}
}

// MissedPackets returns the running count of suppressed "missed packets"
// records, for diagnostics.
func (h *SuppressingHandler) MissedPackets() uint64 {
	return h.missed.Load()
}

func (h *SuppressingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *SuppressingHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	if msg == missedPacketsMessage {
		h.missed.Add(1)
		return nil
	}
	for _, s := range suppressed {
		if msg == s {
			return nil
		}
	}
	return h.base.Handle(ctx, r)
}

func (h *SuppressingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SuppressingHandler{base: h.base.WithAttrs(attrs), missed: h.missed}
}

func (h *SuppressingHandler) WithGroup(name string) slog.Handler {
	return &SuppressingHandler{base: h.base.WithGroup(name), missed: h.missed}
}
