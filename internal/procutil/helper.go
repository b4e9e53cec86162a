// Package procutil owns the capture helper's process lifecycle: spawning it
// (optionally into the interactive console session when the host runs as
// SYSTEM), assigning it to a kill-on-close job object, and terminating it.
package procutil

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start when the helper has already been
// started and not yet terminated/waited.
var ErrAlreadyRunning = errors.New("procutil: helper already running")

// HelperProcess owns one instance of the spawned capture helper. Exactly
// one of Wait or Terminate should observe the process to completion; both
// are idempotent with respect to resource cleanup.
type HelperProcess struct {
	log *logrus.Entry

	handles processHandles
}

// NewHelperProcess constructs an unstarted HelperProcess.
func NewHelperProcess(log *logrus.Entry) *HelperProcess {
	return &HelperProcess{log: log.WithField("component", "helper-process")}
}
