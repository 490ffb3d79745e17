package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strings"

	"wol-go-home/internal/configstore"
	"wol-go-home/internal/hostdir"
	"wol-go-home/internal/pinning"
	"wol-go-home/internal/wake"
)

func (s *Server) handleAPIListHosts(w http.ResponseWriter, r *http.Request) {
	dir, err := s.svc.Directory.Load(r.Context())
	if err != nil {
		s.logger.Error("load directory", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, dir)
}

func (s *Server) handleAPIWakeForm(w http.ResponseWriter, r *http.Request) {
	var form wake.Form
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	out, err := s.svc.Wake.WakeForm(r.Context(), form)
	s.writeWakeResult(w, out, err)
}

// handleAPIWakeHost wakes a directory row with the configured defaults.
// The path MAC may be colon separated or compact.
func (s *Server) handleAPIWakeHost(w http.ResponseWriter, r *http.Request) {
	mac := pathMAC(r.PathValue("mac"))
	name := ""
	if dir, err := s.svc.Directory.Load(r.Context()); err == nil {
		if h, ok := dir.Lookup(mac); ok {
			name = h.Name
		}
	} else {
		s.logger.Warn("load directory for wake", "mac", mac, "err", err)
	}
	out, err := s.svc.Wake.Dispatch(r.Context(), mac, name)
	s.writeWakeResult(w, out, err)
}

func (s *Server) writeWakeResult(w http.ResponseWriter, out *wake.Outcome, err error) {
	if err != nil {
		var detail interface{}
		if out != nil {
			detail = out
		}
		s.writeError(w, err, detail)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAPIBackends(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"availability": s.svc.Wake.Availability(),
	}
	if b, err := s.svc.Wake.Selected(); err != nil {
		resp["error"] = err.Error()
	} else {
		resp["selected"] = b
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAPIPin(w http.ResponseWriter, r *http.Request) {
	var req pinning.PinRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	res, err := s.svc.Pins.Pin(r.Context(), req)
	s.writePinResult(w, res, err)
}

func (s *Server) handleAPIUnpin(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Pins.Unpin(r.Context(), pathMAC(r.PathValue("mac")))
	s.writePinResult(w, res, err)
}

type replacePinsRequest struct {
	Rows []pinning.Row `json:"rows"`
}

func (s *Server) handleAPIReplacePins(w http.ResponseWriter, r *http.Request) {
	var req replacePinsRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Rows) > 256 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rows limited to 256"})
		return
	}
	res, err := s.svc.Pins.ReplaceAll(r.Context(), req.Rows)
	s.writePinResult(w, res, err)
}

func (s *Server) writePinResult(w http.ResponseWriter, res *pinning.Result, err error) {
	if err != nil {
		var detail interface{}
		if res != nil {
			detail = res
		}
		s.writeError(w, err, detail)
		return
	}
	status := http.StatusOK
	if res.Outcome == pinning.OutcomeReloadDeferred {
		status = http.StatusAccepted
	}
	s.writeJSON(w, status, res)
}

func (s *Server) handleAPIListChanges(w http.ResponseWriter, r *http.Request) {
	changes, err := s.svc.Store().Changes(r.Context())
	if err != nil {
		s.logger.Error("list changes", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if changes == nil {
		changes = map[string][]configstore.Change{}
	}
	s.writeJSON(w, http.StatusOK, changes)
}

func (s *Server) handleAPIApplyChanges(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Store().Apply(r.Context()); err != nil {
		s.logger.Error("apply changes", "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "applying"})
}

func (s *Server) handleAPIRevertChanges(w http.ResponseWriter, r *http.Request) {
	config := r.PathValue("config")
	if err := s.svc.Store().Revert(r.Context(), config); err != nil {
		s.logger.Error("revert changes", "config", config, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type addLeaseRequest struct {
	Name string   `json:"name"`
	IP   string   `json:"ip"`
	MACs []string `json:"macs"`
}

func (r addLeaseRequest) validate() (hostdir.Lease, error) {
	lease := hostdir.Lease{Name: strings.TrimSpace(r.Name), IP: strings.TrimSpace(r.IP)}
	if lease.Name == "" {
		return lease, errors.New("name is required")
	}
	if _, err := netip.ParseAddr(lease.IP); err != nil {
		return lease, fmt.Errorf("invalid IP address %q", r.IP)
	}
	if len(r.MACs) == 0 {
		return lease, errors.New("at least one mac is required")
	}
	for _, m := range r.MACs {
		mac, err := hostdir.CanonicalMAC(m)
		if err != nil {
			return lease, err
		}
		lease.MACs = append(lease.MACs, mac)
	}
	return lease, nil
}

// handleAPIAddLease stages a static lease. It is saved but not applied, so
// it shows up as a pending dhcp change until someone applies it.
func (s *Server) handleAPIAddLease(w http.ResponseWriter, r *http.Request) {
	var req addLeaseRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	lease, err := req.validate()
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	c := s.svc.Store()
	ctx := r.Context()
	err = func() error {
		if err := c.Load(ctx, hostdir.LeaseConfig); err != nil {
			return err
		}
		id, err := c.Add(hostdir.LeaseConfig, hostdir.LeaseSectionType)
		if err != nil {
			return err
		}
		if err := c.Set(hostdir.LeaseConfig, id, "name", lease.Name); err != nil {
			return err
		}
		if err := c.Set(hostdir.LeaseConfig, id, "ip", lease.IP); err != nil {
			return err
		}
		if err := c.Set(hostdir.LeaseConfig, id, "mac", strings.Join(lease.MACs, " ")); err != nil {
			return err
		}
		return c.Save(ctx)
	}()
	if err != nil {
		s.logger.Error("stage lease", "name", lease.Name, "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	s.logger.Info("lease staged", "name", lease.Name, "ip", lease.IP, "macs", lease.MACs)
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{"status": "staged", "lease": lease})
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hostdir.ErrInvalidAddress),
		errors.Is(err, wake.ErrNoTargetSpecified),
		errors.Is(err, wake.ErrInvalidForm),
		errors.Is(err, pinning.ErrValidationFailed):
		return http.StatusBadRequest
	case errors.Is(err, pinning.ErrForeignChangesPending),
		errors.Is(err, pinning.ErrAlreadyPinned):
		return http.StatusConflict
	case errors.Is(err, pinning.ErrNotPinned):
		return http.StatusNotFound
	case errors.Is(err, pinning.ErrPersistFailed),
		errors.Is(err, wake.ErrExecutionFailed),
		errors.Is(err, pinning.ErrNotConverged):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err with its mapped status. detail, when non-nil, is
// included so callers see partial progress such as captured output or the
// last workflow phase.
func (s *Server) writeError(w http.ResponseWriter, err error, detail interface{}) {
	status := statusFor(err)
	body := map[string]interface{}{"error": err.Error()}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "err", err)
		body["error"] = "internal server error"
	}
	var verr *pinning.ValidationError
	if errors.As(err, &verr) {
		body["rows"] = verr.Rows
	}
	if detail != nil {
		body["detail"] = detail
	}
	s.writeJSON(w, status, body)
}

// pathMAC accepts both colon separated and compact MACs in URL paths.
func pathMAC(raw string) string {
	if len(raw) == 12 {
		if mac, err := hostdir.ExpandMAC(raw); err == nil {
			return mac
		}
	}
	return raw
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
