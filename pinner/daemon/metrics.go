package daemon

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	offersSeenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinner_offers_seen_total",
		Help: "Pin offers observed on the ledger.",
	})
	offersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinner_offers_rejected_total",
		Help: "Offers rejected by the filter, by reason.",
	}, []string{"reason"})
	pinsSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinner_pins_succeeded_total",
		Help: "Offers pinned and verified on the local storage node.",
	})
	pinsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinner_pins_failed_total",
		Help: "Pin pipeline failures.",
	})
	claimsSucceededTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinner_claims_succeeded_total",
		Help: "Successful collect_pin submissions.",
	})
	claimsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pinner_claims_failed_total",
		Help: "Failed collect_pin submissions, by contract error code.",
	}, []string{"code"})
	earningsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pinner_earnings_stroops_total",
		Help: "Cumulative claim earnings, in stroops.",
	})
)
