package wake

import (
	"fmt"
	"os"
	"path/filepath"
)

// Kind names a wake utility.
type Kind string

const (
	// KindEtherwake sends a directed Ethernet frame, optionally on a given
	// interface or to the broadcast address.
	KindEtherwake Kind = "etherwake"
	// KindWol sends a UDP broadcast; it takes no interface or broadcast
	// option.
	KindWol Kind = "wol"
)

// Default install locations probed at startup.
const (
	EtherwakePath = "/usr/bin/etherwake"
	WolPath       = "/usr/bin/wol"
)

// Backend is a selected wake utility.
type Backend struct {
	Kind Kind   `json:"kind"`
	Path string `json:"path"`
}

// Options are the per-wake settings honoured by etherwake.
type Options struct {
	Interface string
	Broadcast bool
}

// Args builds the argument list for waking mac. The MAC is always last.
func (b Backend) Args(mac string, opts Options) []string {
	if b.Kind != KindEtherwake {
		return []string{"-v", mac}
	}
	args := []string{"-D"}
	if opts.Interface != "" {
		args = append(args, "-i", opts.Interface)
	}
	if opts.Broadcast {
		args = append(args, "-b")
	}
	return append(args, mac)
}

// Availability is the result of the startup probe.
type Availability struct {
	Etherwake     bool   `json:"etherwake"`
	Wol           bool   `json:"wol"`
	EtherwakePath string `json:"etherwake_path"`
	WolPath       string `json:"wol_path"`
}

// Probe checks which utilities are installed. Empty paths use the defaults.
func Probe(etherwakePath, wolPath string) Availability {
	if etherwakePath == "" {
		etherwakePath = EtherwakePath
	}
	if wolPath == "" {
		wolPath = WolPath
	}
	return Availability{
		Etherwake:     isExecutable(etherwakePath),
		Wol:           isExecutable(wolPath),
		EtherwakePath: etherwakePath,
		WolPath:       wolPath,
	}
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil {
		return false
	}
	return fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}

// ParseKind accepts a kind name or a path to one of the utilities.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "":
		return "", nil
	case string(KindEtherwake), EtherwakePath:
		return KindEtherwake, nil
	case string(KindWol), WolPath:
		return KindWol, nil
	}
	if filepath.IsAbs(s) {
		switch filepath.Base(s) {
		case "etherwake":
			return KindEtherwake, nil
		case "wol":
			return KindWol, nil
		}
	}
	return "", fmt.Errorf("unknown wake backend %q (want etherwake or wol)", s)
}

// Select picks the backend to run. An explicit kind must be installed; with
// no explicit kind the single installed utility is used, and having both
// installed requires the operator to choose.
func (a Availability) Select(kind Kind) (Backend, error) {
	ewk := Backend{Kind: KindEtherwake, Path: a.EtherwakePath}
	wol := Backend{Kind: KindWol, Path: a.WolPath}

	switch kind {
	case KindEtherwake:
		if !a.Etherwake {
			return Backend{}, fmt.Errorf("%w: %s not installed", ErrNoBackend, a.EtherwakePath)
		}
		return ewk, nil
	case KindWol:
		if !a.Wol {
			return Backend{}, fmt.Errorf("%w: %s not installed", ErrNoBackend, a.WolPath)
		}
		return wol, nil
	}

	switch {
	case a.Etherwake && a.Wol:
		return Backend{}, ErrBackendNotConfigured
	case a.Etherwake:
		return ewk, nil
	case a.Wol:
		return wol, nil
	default:
		return Backend{}, ErrNoBackend
	}
}
