package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics provides observability for a lender instance. One instance per
// process; the ledger label distinguishes instances in multi-lender
// deployments.
type Metrics struct {
	PoliciesCreated prometheus.Counter
	PayoutsReceived prometheus.Counter
	Withdrawals     prometheus.Counter
	Repayments      prometheus.Counter
	CurrentDebt     prometheus.Gauge
}

// New creates a Metrics instance with all lender metrics registered on the
// default registry.
func New(ledgerID string) *Metrics {
	labels := prometheus.Labels{"ledger": ledgerID}
	return &Metrics{
		PoliciesCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "flowlend_policies_created_total",
			Help:        "Total number of policies financed",
			ConstLabels: labels,
		}),
		PayoutsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "flowlend_payouts_received_total",
			Help:        "Total number of payout callbacks accepted",
			ConstLabels: labels,
		}),
		Withdrawals: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "flowlend_withdrawals_total",
			Help:        "Total number of owner withdrawals executed",
			ConstLabels: labels,
		}),
		Repayments: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "flowlend_repayments_total",
			Help:        "Total number of repayments accepted",
			ConstLabels: labels,
		}),
		CurrentDebt: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "flowlend_current_debt",
			Help:        "Signed running debt of the lender instance",
			ConstLabels: labels,
		}),
	}
}

// SetCurrentDebt records the debt after a ledger mutation.
func (m *Metrics) SetCurrentDebt(debt decimal.Decimal) {
	f, _ := debt.Float64()
	m.CurrentDebt.Set(f)
}
