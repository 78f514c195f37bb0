package supervision

import (
	"sort"
	"sync"
	"time"

	"conductor/internal/model"
	"conductor/pkg/logging"
)

// Metrics tracks expectation outcomes and scanner health.
//
// Counters are kept per operation kind so a stuck participant shows up as a
// rising expired count for the commands it is supposed to handle.
type Metrics struct {
	mu sync.RWMutex

	kinds map[model.OperationKind]*kindMetrics

	scans          int64
	scanOverruns   int64
	staleFlagged   int64
	reconcileFails int64
	lastScanAt     time.Time
}

type kindMetrics struct {
	Opened    int64
	Converged int64
	Expired   int64
	Failed    int64
	Retried   int64
	Resumed   int64
	LastAt    time.Time
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{kinds: make(map[model.OperationKind]*kindMetrics)}
}

func (m *Metrics) kind(kind model.OperationKind) *kindMetrics {
	km, ok := m.kinds[kind]
	if !ok {
		km = &kindMetrics{}
		m.kinds[kind] = km
	}
	km.LastAt = time.Now()
	return km
}

// RecordOpened counts an expectation opened for kind.
func (m *Metrics) RecordOpened(kind model.OperationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind(kind).Opened++
}

// RecordConverged counts an expectation closed as converged.
func (m *Metrics) RecordConverged(kind model.OperationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind(kind).Converged++
}

// RecordExpired counts an expectation that passed its deadline.
func (m *Metrics) RecordExpired(kind model.OperationKind, entity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	km := m.kind(kind)
	km.Expired++
	logging.Warn("SupervisionMetrics", "%s on %s timed out (expired: %d)", kind, entity, km.Expired)
}

// RecordFailed counts an expectation closed as failed.
func (m *Metrics) RecordFailed(kind model.OperationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind(kind).Failed++
}

// RecordRetried counts an automatic retry.
func (m *Metrics) RecordRetried(kind model.OperationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind(kind).Retried++
}

// RecordResumed counts a deferred expectation whose commands were sent.
func (m *Metrics) RecordResumed(kind model.OperationKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kind(kind).Resumed++
}

// RecordScan counts a completed scan and the participants it flagged stale.
func (m *Metrics) RecordScan(stale int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans++
	m.staleFlagged += int64(stale)
	m.lastScanAt = time.Now()
}

// RecordScanOverrun counts a scan skipped because another was running.
func (m *Metrics) RecordScanOverrun() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanOverruns++
}

// RecordReconcileError counts a reconcile that failed on storage and was
// requeued.
func (m *Metrics) RecordReconcileError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconcileFails++
}

// MetricsSummary is a point-in-time view of Metrics.
type MetricsSummary struct {
	Scans           int64             `json:"scans"`
	ScanOverruns    int64             `json:"scan_overruns"`
	StaleFlagged    int64             `json:"stale_flagged"`
	ReconcileErrors int64             `json:"reconcile_errors"`
	DecodeErrors    int64             `json:"decode_errors"`
	LastScanAt      time.Time         `json:"last_scan_at,omitempty"`
	PerKind         []KindMetricsView `json:"per_kind"`
}

// KindMetricsView is a read-only view of the counters for one operation kind.
type KindMetricsView struct {
	Kind      model.OperationKind `json:"kind"`
	Opened    int64               `json:"opened"`
	Converged int64               `json:"converged"`
	Expired   int64               `json:"expired"`
	Failed    int64               `json:"failed"`
	Retried   int64               `json:"retried"`
	Resumed   int64               `json:"resumed"`
	LastAt    time.Time           `json:"last_at,omitempty"`
}

// Summary returns the current counters.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := MetricsSummary{
		Scans:           m.scans,
		ScanOverruns:    m.scanOverruns,
		StaleFlagged:    m.staleFlagged,
		ReconcileErrors: m.reconcileFails,
		LastScanAt:      m.lastScanAt,
		PerKind:         make([]KindMetricsView, 0, len(m.kinds)),
	}
	for kind, km := range m.kinds {
		out.PerKind = append(out.PerKind, KindMetricsView{
			Kind:      kind,
			Opened:    km.Opened,
			Converged: km.Converged,
			Expired:   km.Expired,
			Failed:    km.Failed,
			Retried:   km.Retried,
			Resumed:   km.Resumed,
			LastAt:    km.LastAt,
		})
	}
	sort.Slice(out.PerKind, func(i, j int) bool { return out.PerKind[i].Kind < out.PerKind[j].Kind })
	return out
}

// Kind returns the view for one operation kind.
func (m *Metrics) Kind(kind model.OperationKind) KindMetricsView {
	for _, v := range m.Summary().PerKind {
		if v.Kind == kind {
			return v
		}
	}
	return KindMetricsView{Kind: kind}
}
