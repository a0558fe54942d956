package hunter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	trackedPinsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hunter_tracked_pins",
		Help: "Number of (cid, pinner) pairs currently under verification.",
	})
	checksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hunter_checks_total",
		Help: "Verification checks by outcome.",
	}, []string{"outcome"})
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hunter_cycles_total",
		Help: "Completed verification cycles.",
	})
	flagsSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hunter_flags_submitted_total",
		Help: "Successfully submitted flag transactions.",
	})
	bountyEarnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hunter_bounty_earned_stroops_total",
		Help: "Cumulative flag bounty earned, in stroops.",
	})
)
