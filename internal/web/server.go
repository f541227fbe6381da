// Package web provides the HTTP status page and the diagnostics API of
// the cdu-controller daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/sweeney/cdu-controller/internal/actuator"
	"github.com/sweeney/cdu-controller/internal/controller"
	"github.com/sweeney/cdu-controller/internal/errlog"
	"github.com/sweeney/cdu-controller/internal/safety"
	"github.com/sweeney/cdu-controller/internal/status"
)

// Controller is the set of controller operations the server exposes.
// *controller.Controller implements it.
type Controller interface {
	Snapshot() status.Snapshot

	Register(reg status.Register) (uint32, error)
	SetRegister(reg status.Register, bit uint8, value uint32) error

	Groups() []actuator.Group
	Duty(g actuator.Group) (controller.GroupDuty, error)
	ForceGroupDuty(g actuator.Group, duty int) error
	ForceDeviceDuty(d actuator.Device, duty int) error
	Release(g actuator.Group) error

	Control() bool
	SetControl(on bool)
	MonitorEnabled() bool
	SetMonitor(on bool)
	Polling() bool
	SetPolling(on bool)

	Redundancy() (controller.RedundancyInfo, error)
	SetRedundancy(on bool) error
	SetRedundancyInterval(i safety.Interval) error

	Sticky(idx int) (uint16, error)
	SetSticky(idx int, value uint16) error

	ErrorLog() []errlog.Record
	ClearErrorLog() error

	LEDs() map[string]string
}

// maxBody bounds request bodies of the write endpoints.
const maxBody = 4096

// Server serves the status page and diagnostics API over HTTP.
type Server struct {
	httpServer *http.Server
	ctl        Controller
}

// New creates a Server bound to addr that reads and drives ctl.
func New(addr string, ctl Controller) *Server {
	s := &Server{ctl: ctl}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router(),
	}
	return s
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.html", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/index.json", s.handleJSON).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/registers", s.handleRegisters).Methods(http.MethodGet)
	api.HandleFunc("/registers/{name}", s.handleRegister).Methods(http.MethodGet)
	api.HandleFunc("/registers/{name}", s.handleSetRegister).Methods(http.MethodPut)

	api.HandleFunc("/duty", s.handleDuties).Methods(http.MethodGet)
	api.HandleFunc("/duty/{group}", s.handleDuty).Methods(http.MethodGet)
	api.HandleFunc("/duty/{group}", s.handleForceDuty).Methods(http.MethodPut)
	api.HandleFunc("/duty/{group}", s.handleRelease).Methods(http.MethodDelete)
	api.HandleFunc("/devices/{device:[0-9]+}", s.handleForceDevice).Methods(http.MethodPut)

	api.HandleFunc("/control", s.toggle(s.ctl.Control, s.ctl.SetControl)).Methods(http.MethodGet, http.MethodPut)
	api.HandleFunc("/monitor", s.toggle(s.ctl.MonitorEnabled, s.ctl.SetMonitor)).Methods(http.MethodGet, http.MethodPut)
	api.HandleFunc("/polling", s.toggle(s.ctl.Polling, s.ctl.SetPolling)).Methods(http.MethodGet, http.MethodPut)

	api.HandleFunc("/redundancy", s.handleRedundancy).Methods(http.MethodGet)
	api.HandleFunc("/redundancy", s.handleSetRedundancy).Methods(http.MethodPut)

	api.HandleFunc("/sticky/{idx:[0-9]+}", s.handleSticky).Methods(http.MethodGet)
	api.HandleFunc("/sticky/{idx:[0-9]+}", s.handleSetSticky).Methods(http.MethodPut)

	api.HandleFunc("/errlog", s.handleErrorLog).Methods(http.MethodGet)
	api.HandleFunc("/errlog", s.handleClearErrorLog).Methods(http.MethodDelete)

	api.HandleFunc("/leds", s.handleLEDs).Methods(http.MethodGet)
	return r
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.ctl.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.ctl.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleRegisters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.Snapshot().Registers)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := status.ParseRegister(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	v, err := s.ctl.Register(reg)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterJSON{Register: reg.String(), Value: v})
}

func (s *Server) handleSetRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := status.ParseRegister(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	var req RegisterWrite
	if !decode(w, r, &req) {
		return
	}
	var bit uint8 = status.WholeRegister
	if req.Bit != nil {
		if *req.Bit > 31 {
			writeError(w, badRequest("bit %d out of range", *req.Bit))
			return
		}
		bit = *req.Bit
	}
	if err := s.ctl.SetRegister(reg, bit, req.Value); err != nil {
		writeError(w, err)
		return
	}
	v, _ := s.ctl.Register(reg)
	writeJSON(w, http.StatusOK, RegisterJSON{Register: reg.String(), Value: v})
}

func (s *Server) handleDuties(w http.ResponseWriter, r *http.Request) {
	out := make([]DutyJSON, 0, len(s.ctl.Groups()))
	for _, g := range s.ctl.Groups() {
		gd, err := s.ctl.Duty(g)
		if err != nil {
			continue
		}
		out = append(out, dutyJSON(gd))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDuty(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	s.writeDuty(w, g)
}

func (s *Server) handleForceDuty(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	var req DutyWrite
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctl.ForceGroupDuty(g, req.Duty); err != nil {
		writeError(w, err)
		return
	}
	s.writeDuty(w, g)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	g, ok := s.group(w, r)
	if !ok {
		return
	}
	if err := s.ctl.Release(g); err != nil {
		writeError(w, err)
		return
	}
	s.writeDuty(w, g)
}

func (s *Server) handleForceDevice(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["device"])
	if err != nil || n > 255 {
		writeError(w, badRequest("bad device %q", mux.Vars(r)["device"]))
		return
	}
	var req DutyWrite
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctl.ForceDeviceDuty(actuator.Device(n), req.Duty); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) group(w http.ResponseWriter, r *http.Request) (actuator.Group, bool) {
	g, err := actuator.ParseGroup(mux.Vars(r)["group"])
	if err == nil && g == actuator.GroupNone {
		err = fmt.Errorf("%w: none", actuator.ErrUnknownGroup)
	}
	if err != nil {
		writeError(w, err)
		return actuator.GroupNone, false
	}
	return g, true
}

func (s *Server) writeDuty(w http.ResponseWriter, g actuator.Group) {
	gd, err := s.ctl.Duty(g)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dutyJSON(gd))
}

// toggle serves GET and PUT for one on/off switch.
func (s *Server) toggle(get func() bool, set func(bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			var req Toggle
			if !decode(w, r, &req) {
				return
			}
			set(req.Enabled)
		}
		writeJSON(w, http.StatusOK, Toggle{Enabled: get()})
	}
}

func (s *Server) handleRedundancy(w http.ResponseWriter, r *http.Request) {
	info, err := s.ctl.Redundancy()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, redundancyJSON(info))
}

func (s *Server) handleSetRedundancy(w http.ResponseWriter, r *http.Request) {
	var req RedundancyWrite
	if !decode(w, r, &req) {
		return
	}
	if req.Interval != nil {
		iv := safety.Interval{Count: *req.Interval, Unit: safety.UnitDay}
		if req.Unit != "" {
			u, err := safety.ParseUnit(req.Unit)
			if err != nil {
				writeError(w, badRequest("%v", err))
				return
			}
			iv.Unit = u
		}
		if err := s.ctl.SetRedundancyInterval(iv); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Enabled != nil {
		if err := s.ctl.SetRedundancy(*req.Enabled); err != nil {
			writeError(w, err)
			return
		}
	}
	s.handleRedundancy(w, r)
}

func (s *Server) handleSticky(w http.ResponseWriter, r *http.Request) {
	idx, _ := strconv.Atoi(mux.Vars(r)["idx"])
	v, err := s.ctl.Sticky(idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StickyJSON{Index: idx, Value: v})
}

func (s *Server) handleSetSticky(w http.ResponseWriter, r *http.Request) {
	idx, _ := strconv.Atoi(mux.Vars(r)["idx"])
	var req StickyWrite
	if !decode(w, r, &req) {
		return
	}
	if err := s.ctl.SetSticky(idx, req.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StickyJSON{Index: idx, Value: req.Value})
}

func (s *Server) handleErrorLog(w http.ResponseWriter, r *http.Request) {
	recs := s.ctl.ErrorLog()
	out := make([]RecordJSON, 0, len(recs))
	for i, rec := range recs {
		out = append(out, recordJSON(i, rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClearErrorLog(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.ClearErrorLog(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLEDs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctl.LEDs())
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, badRequest("%v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.MarshalIndent(v, "", "  ")
	w.Write(data)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusCode(err), ErrorJSON{Error: err.Error()})
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, status.ErrUnknownRegister),
		errors.Is(err, actuator.ErrUnknownGroup),
		errors.Is(err, controller.ErrUnknownDevice),
		errors.Is(err, controller.ErrNoRedundancy),
		errors.Is(err, errlog.ErrNoRecord):
		return http.StatusNotFound
	case errors.Is(err, safety.ErrPumpStopped):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, actuator.ErrDutyRange),
		errors.Is(err, safety.ErrInterval),
		errors.Is(err, status.ErrStickyIndex):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
