// Package httpapi is the external HTTP surface (spec.md §6's GUI/CLI/
// telemetry collaborator interface, made concrete): axis enable/disable,
// move absolute/relative, home, abort/reset, a position snapshot, a
// recorded motion-state readback, per-axis duty-cycle status, element
// lookup, slit-scan/conditioning-sweep trigger/cancel, and process-lock/
// options-dump diagnostics.
//
// It is grounded on generichttp/motion's capability-interface-binding
// idiom (Enabler/Mover/Speeder routes are only added when the concrete
// type implements them) and on server.RouteTable/Mainframe's "collect
// routes, then bind them" shape. This system has exactly one controller
// type rather than many interchangeable devices, so the capability check
// here is "is this optional subsystem wired at all" (poller, duty-cycle
// governors, element registry, coordinated operations) rather than a type
// assertion - the same judgement, applied to optional collaborators
// instead of optional interfaces. Routing itself uses go-chi/chi, the
// router cmd/andorhttp2 and cmd/andorhttp3 use, in place of the older
// goji.io/pat still found on some teacher packages (see DESIGN.md).
// Locker (locker.go) adapts server/middleware/locker's soft-lock
// middleware to guard every mutating route.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/config"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/coordops"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dutycycle"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/elements"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/poller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/procmutex"
)

// boolPayload/floatPayload/humanPayload mirror generichttp.BoolT/FloatT/
// HumanPayload: small, homogeneously-named wire structs instead of bare
// JSON scalars, so request/response bodies are self-describing.
type boolPayload struct {
	Bool bool `json:"bool"`
}

type floatPayload struct {
	F64 float64 `json:"f64"`
}

type humanPayload struct {
	T     types.BasicKind `json:"-"`
	Str   string          `json:"str,omitempty"`
	Int   int             `json:"int,omitempty"`
	Float float64         `json:"float,omitempty"`
	Bool  bool            `json:"bool,omitempty"`
}

func (hp humanPayload) encode(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(hp)
}

func writeError(w http.ResponseWriter, err error, code int) {
	http.Error(w, err.Error(), code)
}

// API wires the drive system's subsystems to HTTP routes. Client is
// required; every other field is optional, and its routes are only bound
// when it is non-nil, matching the teacher's "bind only what the
// concrete type satisfies" rule. The exceptions are Lock and Options:
// /diagnostics/lock and /diagnostics/options are always bound and answer
// 404 when the field is nil.
type API struct {
	Client *controller.Client

	// Poller, when set, backs GET /positions with its last published
	// snapshot instead of forcing a synchronous poll per request.
	Poller *poller.Poller

	// Governors maps axis number to its duty-cycle governor, when the
	// duty-cycle feature is enabled for that axis.
	Governors map[int]*dutycycle.Governor

	// Registry backs the /elements routes, when an element map was
	// loaded.
	Registry *elements.Registry

	// SlitScan and Condition build one-shot coordinated operations on
	// demand; nil disables the corresponding routes.
	SlitScan  func(params coordops.SlitScanParams) *coordops.SlitScanner
	Condition func(axis int) *coordops.ConditionRunner

	// Lock, when set, reports the process lock path for diagnostics.
	Lock *procmutex.Lock

	// Options, when set, backs the options dump diagnostic.
	Options *config.Store

	// SoftLock, when set, freezes every mutating route with 423 Locked
	// while engaged - a maintenance guard independent of the process
	// lock, for working on hardware by hand without stopping the daemon.
	SoftLock *Locker

	mu       sync.Mutex
	runningC map[string]context.CancelFunc

	// lastSnapshot caches the most recent poller publication for
	// GET /positions, updated by a subscriber installed in NewRouter.
	lastSnapshot poller.Snapshot
	snapshotMu   sync.Mutex
}

// NewRouter builds the full HTTP handler for api, binding every route
// group whose dependency is present.
func NewRouter(api *API) http.Handler {
	api.runningC = make(map[string]context.CancelFunc)
	r := chi.NewRouter()

	r.Get("/axis/{axis}/enabled", api.getEnabled)
	r.Get("/axis/{axis}/pos", api.getPos)
	r.Get("/axis/{axis}/motionstate", api.getMotionState)
	r.Get("/commands", api.listCommands)
	r.Get("/diagnostics/lock", api.getLock)
	r.Get("/diagnostics/options", api.getOptions)
	if api.Poller != nil {
		api.Poller.Subscribe(api.cacheSnapshot)
		r.Get("/positions", api.getPositions)
	}
	if api.Governors != nil {
		r.Get("/axis/{axis}/dutycycle", api.getDutyCycle)
	}
	if api.Registry != nil {
		r.Get("/elements/{id}", api.getElement)
	}

	// Mutating routes are wrapped in SoftLock.Check when a lock is
	// wired, so an operator can freeze them without restarting the
	// process. The lock's own routes are bound outside the group so it
	// can always be queried and released.
	r.Group(func(r chi.Router) {
		if api.SoftLock != nil {
			r.Use(api.SoftLock.Check)
		}
		r.Post("/axis/{axis}/enabled", api.setEnabled)
		r.Post("/axis/{axis}/pos", api.setPos)
		r.Post("/axis/{axis}/home", api.home)
		r.Post("/axis/{axis}/abort", api.abortAxis)
		r.Post("/axis/{axis}/reset", api.resetAxis)
		r.Post("/abort", api.abortAll)
		r.Post("/reset", api.resetAll)

		if api.Poller != nil {
			r.Post("/poller/pause", api.pausePoller)
			r.Post("/poller/resume", api.resumePoller)
		}
		if api.SlitScan != nil {
			r.Post("/coordops/slitscan", api.startSlitScan)
			r.Delete("/coordops/slitscan", api.cancelOp("slitscan"))
		}
		if api.Condition != nil {
			r.Post("/axis/{axis}/coordops/condition", api.startCondition)
			r.Delete("/axis/{axis}/coordops/condition", api.cancelConditionOp)
		}
	})

	if api.SoftLock != nil {
		r.Get("/diagnostics/softlock", api.SoftLock.getLocked)
		r.Post("/diagnostics/softlock", api.SoftLock.setLocked)
	}

	return r
}

func (a *API) cacheSnapshot(s poller.Snapshot) {
	a.snapshotMu.Lock()
	defer a.snapshotMu.Unlock()
	a.lastSnapshot = s
}

func axisParam(r *http.Request) (int, error) {
	s := chi.URLParam(r, "axis")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid axis number %q", s)
	}
	return n, nil
}

func (a *API) getEnabled(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	axis := a.Client.Axis(axisNum)
	if axis == nil {
		writeError(w, fmt.Errorf("axis %d not configured", axisNum), http.StatusNotFound)
		return
	}
	humanPayload{T: types.Bool, Bool: axis.Enabled()}.encode(w)
}

func (a *API) setEnabled(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	axis := a.Client.Axis(axisNum)
	if axis == nil {
		writeError(w, fmt.Errorf("axis %d not configured", axisNum), http.StatusNotFound)
		return
	}
	var body boolPayload
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	axis.SetEnabled(body.Bool)
	w.WriteHeader(http.StatusOK)
}

func (a *API) getPos(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	pos, _, err := a.Client.ReadPosition(axisNum)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	humanPayload{T: types.Int, Int: pos}.encode(w)
}

func (a *API) getMotionState(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	axis := a.Client.Axis(axisNum)
	if axis == nil {
		writeError(w, fmt.Errorf("axis %d out of range", axisNum), http.StatusBadRequest)
		return
	}
	humanPayload{T: types.String, Str: axis.MotionState().String()}.encode(w)
}

func (a *API) setPos(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	relative := r.URL.Query().Get("relative") == "true"
	var body floatPayload
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	steps := int(body.F64)
	if relative {
		_, err = a.Client.MoveRelative(axisNum, steps)
	} else {
		_, err = a.Client.MoveAbsolute(axisNum, steps)
	}
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) home(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if err := a.Client.DatumSearch(axisNum); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) abortAxis(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if _, err := a.Client.AbortAxis(axisNum); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) resetAxis(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if _, err := a.Client.ResetAxis(axisNum); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) abortAll(w http.ResponseWriter, r *http.Request) {
	if err := a.Client.AbortAll(); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) resetAll(w http.ResponseWriter, r *http.Request) {
	if err := a.Client.ResetAll(); err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) listCommands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(a.Client.CommandList())
}

type positionsResponse struct {
	SampledAt time.Time                  `json:"sampled_at"`
	Positions map[int]controller.Snapshot `json:"positions"`
}

func (a *API) getPositions(w http.ResponseWriter, r *http.Request) {
	a.snapshotMu.Lock()
	snap := a.lastSnapshot
	a.snapshotMu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(positionsResponse{SampledAt: snap.SampledAt, Positions: snap.Positions})
}

func (a *API) pausePoller(w http.ResponseWriter, r *http.Request) {
	a.Poller.Pause()
	w.WriteHeader(http.StatusOK)
}

func (a *API) resumePoller(w http.ResponseWriter, r *http.Request) {
	a.Poller.Resume()
	w.WriteHeader(http.StatusOK)
}

type dutyCycleResponse struct {
	Resting bool  `json:"resting"`
	MAVMs   int64 `json:"mav_ms"`
}

func (a *API) getDutyCycle(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	g, ok := a.Governors[axisNum]
	if !ok {
		writeError(w, fmt.Errorf("no duty-cycle governor configured for axis %d", axisNum), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(dutyCycleResponse{Resting: g.Resting(), MAVMs: g.MAV().Milliseconds()})
}

type elementResponse struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	H     int    `json:"h"`
	V     int    `json:"v"`
}

func (a *API) getElement(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := a.Registry.Coord(id)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(elementResponse{ID: id, Label: a.Registry.Label(id), H: c.H, V: c.V})
}

type slitScanRequest struct {
	Direction  string  `json:"direction"`
	OffsetMM   float64 `json:"offset_mm"`
	StepSizeMM float64 `json:"step_size_mm"`
	DwellMs    int     `json:"dwell_ms"`
}

func (a *API) startSlitScan(w http.ResponseWriter, r *http.Request) {
	var req slitScanRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	dir := coordops.Horizontal
	if req.Direction == "vertical" {
		dir = coordops.Vertical
	}
	params := coordops.SlitScanParams{
		Direction:  dir,
		OffsetMM:   req.OffsetMM,
		StepSizeMM: req.StepSizeMM,
		Dwell:      time.Duration(req.DwellMs) * time.Millisecond,
	}
	scanner := a.SlitScan(params)
	a.runOp("slitscan", w, func(ctx context.Context) error {
		return scanner.Run(ctx, params)
	})
}

type conditionRequest struct {
	NegativeLimit      int `json:"negative_limit"`
	PositiveLimit      int `json:"positive_limit"`
	CreepSpeedPositive int `json:"creep_speed_positive"`
	CreepSpeedNegative int `json:"creep_speed_negative"`
	SlewSpeedPositive  int `json:"slew_speed_positive"`
	SlewSpeedNegative  int `json:"slew_speed_negative"`
}

func (a *API) startCondition(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	var req conditionRequest
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	runner := a.Condition(axisNum)
	params := coordops.ConditionParams{
		Axis:               axisNum,
		NegativeLimit:      req.NegativeLimit,
		PositiveLimit:      req.PositiveLimit,
		CreepSpeedPositive: req.CreepSpeedPositive,
		CreepSpeedNegative: req.CreepSpeedNegative,
		SlewSpeedPositive:  req.SlewSpeedPositive,
		SlewSpeedNegative:  req.SlewSpeedNegative,
	}
	a.runOp(conditionOpKey(axisNum), w, func(ctx context.Context) error {
		return runner.Run(ctx, params)
	})
}

func conditionOpKey(axis int) string {
	return fmt.Sprintf("condition/%d", axis)
}

// runOp launches a coordinated operation on its own goroutine, tracking a
// cancel func so a later DELETE can stop it, and replies immediately
// with StatusAccepted: slit scans and conditioning sweeps run for minutes
// and must not hold the request open.
func (a *API) runOp(key string, w http.ResponseWriter, fn func(ctx context.Context) error) {
	a.mu.Lock()
	if _, running := a.runningC[key]; running {
		a.mu.Unlock()
		writeError(w, fmt.Errorf("operation %q is already running", key), http.StatusConflict)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.runningC[key] = cancel
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.runningC, key)
			a.mu.Unlock()
		}()
		if err := fn(ctx); err != nil {
			fmt.Printf("httpapi: coordinated operation %q ended: %v\n", key, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

func (a *API) cancelOp(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.cancel(key, w)
	}
}

func (a *API) cancelConditionOp(w http.ResponseWriter, r *http.Request) {
	axisNum, err := axisParam(r)
	if err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	a.cancel(conditionOpKey(axisNum), w)
}

func (a *API) cancel(key string, w http.ResponseWriter) {
	a.mu.Lock()
	cancel, ok := a.runningC[key]
	a.mu.Unlock()
	if !ok {
		writeError(w, fmt.Errorf("operation %q is not running", key), http.StatusNotFound)
		return
	}
	cancel()
	w.WriteHeader(http.StatusOK)
}

type lockResponse struct {
	Path string `json:"path"`
}

func (a *API) getLock(w http.ResponseWriter, r *http.Request) {
	if a.Lock == nil {
		writeError(w, fmt.Errorf("no process lock held"), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(lockResponse{Path: a.Lock.Path()})
}

func (a *API) getOptions(w http.ResponseWriter, r *http.Request) {
	if a.Options == nil {
		writeError(w, fmt.Errorf("no options store configured"), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, a.Options.Dump())
}
