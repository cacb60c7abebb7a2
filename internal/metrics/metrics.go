package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Logins = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin", Name: "logins_total", Help: "Successful logins",
	})
	Registrations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin", Name: "registrations_total", Help: "Successful activity registrations",
	})
	CheckIns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin", Name: "checkins_total", Help: "Successful check-ins",
	})
	HandlerErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "checkin", Name: "handler_errors_total", Help: "Handler 5xx responses",
	})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "checkin", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(Logins, Registrations, CheckIns, HandlerErrors, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }
