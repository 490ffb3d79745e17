package pinning

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"wol-go-home/internal/hostdir"
)

// ErrValidationFailed is matched by every ValidationError.
var ErrValidationFailed = errors.New("validation failed")

// Row is one entry of a bulk edit.
type Row struct {
	Name string `json:"name"`
	MAC  string `json:"mac"`
	IP   string `json:"ip,omitempty"`
}

// RowError is a problem with one row. Line is 1-based.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Message)
}

// ValidationError lists every row problem of a rejected batch.
type ValidationError struct {
	Rows []RowError `json:"rows"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Rows))
	for i, r := range e.Rows {
		msgs[i] = r.String()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ValidateRows checks every row and returns the canonicalised batch, or a
// *ValidationError listing all problems.
func ValidateRows(rows []Row) ([]Row, error) {
	var errs []RowError
	out := make([]Row, 0, len(rows))
	for i, r := range rows {
		line := i + 1
		r.Name = strings.TrimSpace(r.Name)
		r.IP = strings.TrimSpace(r.IP)
		if r.Name == "" {
			errs = append(errs, RowError{Line: line, Message: "name is required"})
		}
		mac, err := hostdir.CanonicalMAC(strings.TrimSpace(r.MAC))
		switch {
		case strings.TrimSpace(r.MAC) == "":
			errs = append(errs, RowError{Line: line, Message: "mac is required"})
		case err != nil:
			errs = append(errs, RowError{Line: line, Message: fmt.Sprintf("invalid MAC address %q", r.MAC)})
		}
		if r.IP != "" {
			if _, err := netip.ParseAddr(r.IP); err != nil {
				errs = append(errs, RowError{Line: line, Message: fmt.Sprintf("invalid IP address %q", r.IP)})
			}
		}
		r.MAC = mac
		out = append(out, r)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Rows: errs}
	}
	return out, nil
}

// validatePin checks a single pin request. A malformed MAC is reported as
// an invalid address rather than a row error.
func validatePin(req PinRequest) (PinRequest, error) {
	if mac := strings.TrimSpace(req.MAC); mac != "" && !hostdir.ValidMAC(mac) {
		return req, fmt.Errorf("%w: %q", hostdir.ErrInvalidAddress, req.MAC)
	}
	rows, err := ValidateRows([]Row{{Name: req.Name, MAC: req.MAC, IP: req.IP}})
	if err != nil {
		return req, err
	}
	return PinRequest{Name: rows[0].Name, MAC: rows[0].MAC, IP: rows[0].IP}, nil
}
