package consequence

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

var consequencesApplied = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "marginalia",
		Subsystem: "moderationapi",
		Name:      "consequences_applied_total",
		Help:      "Total number of consequences applied, by type and result",
	},
	[]string{"consequence", "result"},
)

func init() {
	prometheus.MustRegister(consequencesApplied)
}

// Live executes each consequence immediately against the real
// effectors and returns its real result.
type Live struct {
	deps *Deps
}

func NewLiveManager(deps *Deps) *Live {
	return &Live{deps: deps}
}

func (m *Live) Add(ctx context.Context, c Consequence) (Result, error) {
	name := consequenceName(c)
	result, err := c.Apply(ctx, m.deps)
	if err != nil {
		consequencesApplied.WithLabelValues(name, "error").Inc()
		logrus.WithContext(ctx).WithError(err).WithField("consequence", name).
			Error("Failed to apply consequence")
		return result, err
	}
	consequencesApplied.WithLabelValues(name, "ok").Inc()
	return result, nil
}

func consequenceName(c Consequence) string {
	return fmt.Sprintf("%T", c)
}
