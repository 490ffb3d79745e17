package hostdir

import (
	"fmt"
	"strings"
)

// Origin tags the source a host row came from.
type Origin uint8

const (
	OriginDiscovered Origin = iota + 1
	OriginStaticLease
	OriginPinned
)

// Precedence orders origins: Pinned > StaticLease > Discovered.
func (o Origin) Precedence() int { return int(o) }

func (o Origin) String() string {
	switch o {
	case OriginDiscovered:
		return "discovered"
	case OriginStaticLease:
		return "static"
	case OriginPinned:
		return "pinned"
	default:
		return fmt.Sprintf("origin(%d)", uint8(o))
	}
}

func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func (o *Origin) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "discovered":
		*o = OriginDiscovered
	case "static":
		*o = OriginStaticLease
	case "pinned":
		*o = OriginPinned
	default:
		return fmt.Errorf("unknown origin %q", b)
	}
	return nil
}

// Hint is what the discovery collaborator knows about one MAC.
type Hint struct {
	Name string   `json:"name,omitempty" yaml:"name"`
	IPv4 []string `json:"ipv4,omitempty" yaml:"ipv4"`
	IPv6 []string `json:"ipv6,omitempty" yaml:"ipv6"`
}

// Lease is a static DHCP lease. One lease may name several MACs.
type Lease struct {
	Name string
	IP   string
	MACs []string
}

// PinnedHost is a persisted wake target as read back from the config store.
type PinnedHost struct {
	SectionID string
	Name      string
	MAC       string
	IP        string
}

// HostRecord is one row of the directory.
type HostRecord struct {
	MAC  string `json:"mac"`
	Name string `json:"name,omitempty"`
	IP   string `json:"ip,omitempty"`

	// Origin is the highest-precedence source the MAC appears in, which is
	// not necessarily the section this row is listed under.
	Origin  Origin   `json:"origin"`
	Origins []Origin `json:"origins"`

	IsPinned  bool   `json:"is_pinned"`
	SectionID string `json:"section_id,omitempty"`

	// Fallback labels for hosts without a name.
	firstIPv4 string
	firstIPv6 string
}

// Label is the text shown for the host in the wake picker.
func (h HostRecord) Label() string {
	switch {
	case h.Name != "":
		return h.Name
	case h.firstIPv4 != "":
		return h.firstIPv4
	case h.firstIPv6 != "":
		return h.firstIPv6
	case h.IP != "":
		return h.IP
	default:
		return "?"
	}
}

// CanPin reports whether a pin action is offered for this row.
func (h HostRecord) CanPin() bool {
	return h.Origin != OriginPinned && !h.IsPinned && ValidMAC(h.MAC)
}

// CanUnpin reports whether an unpin action is offered for this row.
func (h HostRecord) CanUnpin() bool {
	return h.IsPinned || h.Origin == OriginPinned
}

// Choice is an entry of the wake target picker.
type Choice struct {
	MAC   string `json:"mac"`
	Label string `json:"label"`
}

// Directory is the merged, read-only view of known hosts.
type Directory struct {
	Pinned     []HostRecord `json:"pinned"`
	Static     []HostRecord `json:"static"`
	Discovered []HostRecord `json:"discovered"`
	Choices    []Choice     `json:"choices"`
}

// Lookup returns the best-known record for mac, searching pinned, static and
// discovered rows in precedence order.
func (d *Directory) Lookup(mac string) (HostRecord, bool) {
	mac = NormalizeMAC(mac)
	for _, list := range [][]HostRecord{d.Pinned, d.Static, d.Discovered} {
		for _, h := range list {
			if h.MAC == mac {
				return h, true
			}
		}
	}
	return HostRecord{}, false
}

// Hosts returns one record per distinct MAC across all sections, preferring
// the highest-precedence row.
func (d *Directory) Hosts() []HostRecord {
	seen := make(map[string]bool)
	var out []HostRecord
	for _, list := range [][]HostRecord{d.Pinned, d.Static, d.Discovered} {
		for _, h := range list {
			if seen[h.MAC] {
				continue
			}
			seen[h.MAC] = true
			out = append(out, h)
		}
	}
	return out
}
