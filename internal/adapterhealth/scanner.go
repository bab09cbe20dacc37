package adapterhealth

import (
	"github.com/robfig/cron/v3"

	"github.com/raceboard/server/internal/telemetry/logging"
)

// Scanner drives Registry.Scan on a fixed schedule via robfig/cron, the
// same scheduling library the rebuild pipeline's periodic trigger uses, so
// the composition root manages one cron.Cron for both.
type Scanner struct {
	reg *Registry
	log logging.Logger
}

func NewScanner(reg *Registry, log logging.Logger) *Scanner {
	if log == nil {
		log = logging.Noop()
	}
	return &Scanner{reg: reg, log: log}
}

// Register adds this scanner's job to an existing cron.Cron instead of
// owning its own, so the server has a single scheduler thread.
func (s *Scanner) Register(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, s.runOnce)
}

func (s *Scanner) runOnce() {
	transitioned, evicted := s.reg.Scan()
	if transitioned > 0 || evicted > 0 {
		s.log.Info("adapter health scan", "transitioned", transitioned, "evicted", evicted)
	}
}
