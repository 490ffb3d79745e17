// Package discovery provides the host hints the directory merges in: names
// and addresses keyed by MAC, as gathered by external collectors.
package discovery

import (
	"context"
	"log/slog"
	"slices"

	"wol-go-home/internal/hostdir"
)

// Source returns host hints keyed by MAC.
type Source interface {
	HostHints(ctx context.Context) (map[string]hostdir.Hint, error)
}

// Multi merges several sources. For each MAC the first source that knows a
// name wins; addresses are unioned in source order. A failing source is
// logged and skipped unless every source fails.
type Multi struct {
	sources []Source
	logger  *slog.Logger
}

// NewMulti creates a merger over sources, queried in order.
func NewMulti(logger *slog.Logger, sources ...Source) *Multi {
	return &Multi{sources: sources, logger: logger.With("component", "discovery")}
}

func (m *Multi) HostHints(ctx context.Context) (map[string]hostdir.Hint, error) {
	out := make(map[string]hostdir.Hint)
	var firstErr error
	failed := 0
	for _, s := range m.sources {
		hints, err := s.HostHints(ctx)
		if err != nil {
			m.logger.Warn("hint source failed", "err", err)
			if firstErr == nil {
				firstErr = err
			}
			failed++
			continue
		}
		for raw, h := range hints {
			mac := hostdir.NormalizeMAC(raw)
			out[mac] = mergeHint(out[mac], h)
		}
	}
	if len(m.sources) > 0 && failed == len(m.sources) {
		return nil, firstErr
	}
	return out, nil
}

func mergeHint(into, from hostdir.Hint) hostdir.Hint {
	if into.Name == "" {
		into.Name = from.Name
	}
	into.IPv4 = appendMissing(into.IPv4, from.IPv4)
	into.IPv6 = appendMissing(into.IPv6, from.IPv6)
	return into
}

func appendMissing(dst, src []string) []string {
	for _, s := range src {
		if s != "" && !slices.Contains(dst, s) {
			dst = append(dst, s)
		}
	}
	return dst
}
