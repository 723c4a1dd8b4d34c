// Package prometheus is the Prometheus-backed implementation of
// metrics.Recorder, registered against a shared registry exactly the way
// the teacher registers its own Prometheus collectors: a package-level
// constructor wired up once from the CLI entrypoint.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/relaycrypt/securexfer/internal/metrics"
)

// Recorder is the Prometheus-backed metrics.Recorder.
type Recorder struct {
	connectionsAccepted prometheus.Counter
	connectionsClosed    *prometheus.CounterVec
	requests             *prometheus.CounterVec
	registerSucceeded     prometheus.Counter
	registerRejected      prometheus.Counter
	uploadsFinalized      prometheus.Counter
	uploadBytes           prometheus.Counter
	uploadsFailed         prometheus.Counter
	cryptoFailures        prometheus.Counter
	malformedFrames       prometheus.Counter
}

// New creates a Recorder and registers its collectors against reg.
func New(reg prometheus.Registerer) *Recorder {
	return &Recorder{
		connectionsAccepted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_connections_accepted_total",
			Help: "Total number of TCP connections accepted.",
		}),
		connectionsClosed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securexfer_connections_closed_total",
			Help: "Total number of sessions closed, by reason.",
		}, []string{"reason"}),
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "securexfer_requests_total",
			Help: "Total number of requests handled, by opcode.",
		}, []string{"opcode"}),
		registerSucceeded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_register_succeeded_total",
			Help: "Total number of successful REGISTER requests.",
		}),
		registerRejected: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_register_rejected_total",
			Help: "Total number of REGISTER requests rejected as duplicates.",
		}),
		uploadsFinalized: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_uploads_finalized_total",
			Help: "Total number of uploads successfully decrypted and checksummed.",
		}),
		uploadBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_upload_bytes_total",
			Help: "Total plaintext bytes produced by finalized uploads.",
		}),
		uploadsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_uploads_failed_total",
			Help: "Total number of uploads that failed to finalize (decrypt/IO errors).",
		}),
		cryptoFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_crypto_failures_total",
			Help: "Total number of RSA wrap or AES decrypt failures.",
		}),
		malformedFrames: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "securexfer_malformed_frames_total",
			Help: "Total number of sessions closed due to malformed header/payload framing.",
		}),
	}
}

var _ metrics.Recorder = (*Recorder)(nil)

func (r *Recorder) ConnectionAccepted()     { r.connectionsAccepted.Inc() }
func (r *Recorder) ConnectionClosed(reason string) {
	r.connectionsClosed.WithLabelValues(reason).Inc()
}
func (r *Recorder) Request(opcode string) { r.requests.WithLabelValues(opcode).Inc() }
func (r *Recorder) RegisterSucceeded()    { r.registerSucceeded.Inc() }
func (r *Recorder) RegisterRejected()     { r.registerRejected.Inc() }
func (r *Recorder) UploadFinalized(bytes int) {
	r.uploadsFinalized.Inc()
	r.uploadBytes.Add(float64(bytes))
}
func (r *Recorder) UploadFailed()    { r.uploadsFailed.Inc() }
func (r *Recorder) CryptoFailure()   { r.cryptoFailures.Inc() }
func (r *Recorder) MalformedFrame()  { r.malformedFrames.Inc() }
