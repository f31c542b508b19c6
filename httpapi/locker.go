package httpapi

import (
	"encoding/json"
	"net/http"
)

// Locker is a soft, application-level lock distinct from procmutex's
// single-instance process lock: it lets an operator freeze every
// mutating route (moves, homes, aborts, coordinated operations) while
// working on the hardware by hand, without stopping the daemon or
// releasing the process lock. Grounded on server/middleware/locker's
// Locker, adapted from its goji.io/pat route injection to a chi
// middleware and from server.HumanPayload/server.BoolT to this
// package's humanPayload/boolPayload.
type Locker struct {
	locked bool
}

// NewLocker returns an unlocked Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// Lock freezes subsequent requests to routes wrapped by Check.
func (l *Locker) Lock() { l.locked = true }

// Unlock resumes normal request handling.
func (l *Locker) Unlock() { l.locked = false }

// Locked reports the current state.
func (l *Locker) Locked() bool { return l.locked }

// Check is chi-compatible middleware: it returns 423 Locked while
// locked, otherwise passes the request through unchanged.
func (l *Locker) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			w.WriteHeader(http.StatusLocked)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (l *Locker) getLocked(w http.ResponseWriter, r *http.Request) {
	humanPayload{Bool: l.Locked()}.encode(w)
}

func (l *Locker) setLocked(w http.ResponseWriter, r *http.Request) {
	var body boolPayload
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}
	if body.Bool {
		l.Lock()
	} else {
		l.Unlock()
	}
	w.WriteHeader(http.StatusOK)
}
