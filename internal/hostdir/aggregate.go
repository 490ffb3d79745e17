package hostdir

import (
	"cmp"
	"net/netip"
	"slices"
	"strings"
)

// Aggregate merges the three host sources into a Directory. Rows missing
// their required fields are skipped; upstream data is expected to be
// heterogeneous.
func Aggregate(hints map[string]Hint, leases []Lease, pins []PinnedHost) *Directory {
	origins := make(map[string][]Origin)
	addOrigin := func(mac string, o Origin) {
		if !slices.Contains(origins[mac], o) {
			origins[mac] = append(origins[mac], o)
		}
	}

	// Pinned set; duplicate MACs keep the last entry seen.
	pinned := make(map[string]PinnedHost)
	var pinnedRows []HostRecord
	for _, p := range pins {
		if p.MAC == "" || p.Name == "" {
			continue
		}
		mac := NormalizeMAC(p.MAC)
		p.MAC = mac
		pinned[mac] = p
		addOrigin(mac, OriginPinned)
		pinnedRows = append(pinnedRows, HostRecord{
			MAC:       mac,
			Name:      p.Name,
			IP:        p.IP,
			IsPinned:  true,
			SectionID: p.SectionID,
		})
	}

	var staticRows []HostRecord
	for _, l := range leases {
		if l.Name == "" || l.IP == "" || len(l.MACs) == 0 {
			continue
		}
		for _, raw := range l.MACs {
			if strings.TrimSpace(raw) == "" {
				continue
			}
			mac := NormalizeMAC(raw)
			addOrigin(mac, OriginStaticLease)
			_, isPinned := pinned[mac]
			staticRows = append(staticRows, HostRecord{
				MAC:      mac,
				Name:     l.Name,
				IP:       l.IP,
				IsPinned: isPinned,
			})
		}
	}

	var discoveredRows []HostRecord
	for raw, h := range hints {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		mac := NormalizeMAC(raw)
		addOrigin(mac, OriginDiscovered)
		_, isPinned := pinned[mac]
		rec := HostRecord{
			MAC:       mac,
			Name:      h.Name,
			IsPinned:  isPinned,
			firstIPv4: firstNonEmpty(h.IPv4),
			firstIPv6: firstNonEmpty(h.IPv6),
		}
		rec.IP = rec.firstIPv4
		if rec.IP == "" {
			rec.IP = rec.firstIPv6
		}
		discoveredRows = append(discoveredRows, rec)
	}

	finish := func(rows []HostRecord) []HostRecord {
		for i := range rows {
			rows[i].Origins = sortedOrigins(origins[rows[i].MAC])
			rows[i].Origin = rows[i].Origins[0]
		}
		return rows
	}

	slices.SortStableFunc(pinnedRows, func(a, b HostRecord) int {
		return strings.Compare(a.Name, b.Name)
	})
	slices.SortStableFunc(discoveredRows, func(a, b HostRecord) int {
		if c := CompareIP(a.IP, b.IP); c != 0 {
			return c
		}
		return strings.Compare(a.MAC, b.MAC)
	})

	d := &Directory{
		Pinned:     finish(pinnedRows),
		Static:     finish(staticRows),
		Discovered: finish(discoveredRows),
	}
	d.Choices = buildChoices(d.Discovered, pinned)
	return d
}

// CompareIP orders two addresses numerically per octet when both are IPv4
// and lexically otherwise (mixed families, IPv6, empty or unparsable).
func CompareIP(a, b string) int {
	pa, errA := netip.ParseAddr(a)
	pb, errB := netip.ParseAddr(b)
	if errA == nil && errB == nil && pa.Is4() && pb.Is4() {
		return pa.Compare(pb)
	}
	return strings.Compare(a, b)
}

// buildChoices lists every discovered host plus pinned hosts that discovery
// does not know about, keyed and sorted by MAC.
func buildChoices(discovered []HostRecord, pinned map[string]PinnedHost) []Choice {
	labels := make(map[string]string, len(discovered)+len(pinned))
	for _, h := range discovered {
		labels[h.MAC] = h.Label()
	}
	for mac, p := range pinned {
		if _, ok := labels[mac]; !ok {
			labels[mac] = p.Name
		}
	}
	out := make([]Choice, 0, len(labels))
	for mac, label := range labels {
		out = append(out, Choice{MAC: mac, Label: label})
	}
	slices.SortFunc(out, func(a, b Choice) int { return strings.Compare(a.MAC, b.MAC) })
	return out
}

func sortedOrigins(os []Origin) []Origin {
	out := slices.Clone(os)
	slices.SortFunc(out, func(a, b Origin) int {
		return cmp.Compare(b.Precedence(), a.Precedence())
	})
	return out
}

func firstNonEmpty(ss []string) string {
	for _, s := range ss {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
