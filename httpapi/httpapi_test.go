package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/controller"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/dutycycle"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/elements"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/serialcomm"
	"github.com/ISOLDESolenoidalSpectrometer/drivesystem/simulator"
)

func newTestAPI(t *testing.T) (*API, http.Handler) {
	t.Helper()
	sim := simulator.New(3)
	t.Cleanup(func() { sim.Close() })

	cfg := serialcomm.SimulatorLinkConfig("sim://test")
	cfg.SettleDelay = 0
	link := serialcomm.NewWithTransport(cfg, sim)

	axes := []*controller.Axis{
		controller.NewAxis(1, "TaC", "Trolley", "trolley"),
		controller.NewAxis(2, "Arr", "Array", "array"),
	}
	c := controller.New(link, axes, func() bool { return false }, nil)

	reg, _, err := elements.Load(t.TempDir()+"/labels.txt", t.TempDir()+"/coords.txt")
	if err != nil {
		t.Fatalf("elements.Load: %v", err)
	}

	api := &API{
		Client:    c,
		Registry:  reg,
		Governors: map[int]*dutycycle.Governor{1: dutycycle.New(1.0, dutycycle.Air, nil, nil)},
	}
	return api, NewRouter(api)
}

func TestGetEnabledDefaultsTrue(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/1/enabled", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var hp humanPayload
	if err := json.Unmarshal(w.Body.Bytes(), &hp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hp.Bool {
		t.Error("expected axis 1 to be enabled by default")
	}
}

func TestSetEnabledThenGetReflectsChange(t *testing.T) {
	api, h := newTestAPI(t)
	body, _ := json.Marshal(boolPayload{Bool: false})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/axis/1/enabled", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if api.Client.Axis(1).Enabled() {
		t.Error("expected axis 1 to be disabled after POST")
	}
}

func TestGetEnabledUnknownAxisNotFound(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/99/enabled", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestSetPosAbsoluteThenGetPos(t *testing.T) {
	_, h := newTestAPI(t)
	body, _ := json.Marshal(floatPayload{F64: 500})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/axis/1/pos", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	// Allow the simulator's tick to settle the move: at the default slew
	// speed an axis covers 200 steps a tick, so 500 steps take three ticks.
	time.Sleep(4 * simulator.TickInterval)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/1/pos", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var hp humanPayload
	if err := json.Unmarshal(w.Body.Bytes(), &hp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hp.Int != 500 {
		t.Errorf("position = %d, want 500", hp.Int)
	}
}

func TestAbortAllThenResetAll(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/abort", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("abort status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reset", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("reset status = %d", w.Code)
	}
}

func TestGetDutyCycleKnownAxis(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/1/dutycycle", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestGetDutyCycleUnconfiguredAxisNotFound(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/2/dutycycle", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetElementUnmappedReturnsDefaultCoord(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/elements/"+elements.VerticalSlit, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp elementResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Label != "Vertical slit" {
		t.Errorf("label = %q, want default reserved label", resp.Label)
	}
}

func TestDiagnosticsRoutesWithoutDependenciesReturn404(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diagnostics/lock", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("lock status = %d, want 404 (no lock wired)", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/diagnostics/options", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("options status = %d, want 404 (no store wired)", w.Code)
	}
}

func TestSoftLockBlocksMutatingRoutesButNotReads(t *testing.T) {
	api, h := newTestAPI(t)
	api.SoftLock = NewLocker()
	h = NewRouter(api)

	body, _ := json.Marshal(boolPayload{Bool: true})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/diagnostics/softlock", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("lock status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/axis/1/enabled", bytes.NewReader(body)))
	if w.Code != http.StatusLocked {
		t.Fatalf("mutating route status while locked = %d, want 423", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/axis/1/enabled", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("read route status while locked = %d, want 200", w.Code)
	}
}

func TestPollerAndCoordopsRoutesAbsentWhenUnwired(t *testing.T) {
	_, h := newTestAPI(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/positions", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("/positions status = %d, want 404 when no poller is wired", w.Code)
	}
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/coordops/slitscan", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("/coordops/slitscan status = %d, want 404 when no scanner factory is wired", w.Code)
	}
}
