package metrics

import "github.com/prometheus/client_golang/prometheus"

// Keys for docdb metrics.
const (
	Fail = "fail"
	Ok   = "ok"

	DocDBTransactionsTotalKey       = "docdb_transactions_total"
	DocDBRevisionsInsertedTotalKey  = "docdb_revisions_inserted_total"
	DocDBChangesDeliveredTotalKey   = "docdb_changes_delivered_total"
	DocDBChangesDiscardedTotalKey   = "docdb_changes_discarded_total"
	DocDBViewsInvalidatedTotalKey   = "docdb_views_invalidated_total"
	DocDBViewRowsIndexedTotalKey    = "docdb_view_rows_indexed_total"
	DocDBViewUpdateDurationKey      = "docdb_view_update_duration_seconds"
	DocDBFilterFaultsTotalKey       = "docdb_filter_faults_total"
	DocDBListenerFaultsTotalKey     = "docdb_listener_faults_total"
	DocDBFilterCacheLookupsTotalKey = "docdb_filter_cache_lookups_total"
	DocDBBlobsCollectedTotalKey     = "docdb_blobs_collected_total"
)

// Values of the "status" label of DocDBTransactionsTotal.
const (
	Committed  = "committed"
	RolledBack = "rolled_back"
	Aborted    = "aborted"
)

// Collectors for docdb.Database metrics.
var (
	DocDBTransactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DocDBTransactionsTotalKey,
		Help: "Cumulative number of outermost transactions, by status.",
	}, []string{"status"})
	DocDBRevisionsInsertedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBRevisionsInsertedTotalKey,
		Help: "Cumulative number of revisions inserted (including those later rolled back).",
	})
	DocDBChangesDeliveredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBChangesDeliveredTotalKey,
		Help: "Cumulative number of committed changes delivered to each listener.",
	})
	DocDBChangesDiscardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBChangesDiscardedTotalKey,
		Help: "Cumulative number of pending changes discarded by rollbacks.",
	})
	DocDBViewsInvalidatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBViewsInvalidatedTotalKey,
		Help: "Cumulative number of open views closed due to a changed design document.",
	})
	DocDBViewRowsIndexedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DocDBViewRowsIndexedTotalKey,
		Help: "Cumulative number of view rows emitted by index updates.",
	}, []string{"view"})
	DocDBViewUpdateDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    DocDBViewUpdateDurationKey,
		Help:    "Duration of view index updates.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})
	DocDBFilterFaultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBFilterFaultsTotalKey,
		Help: "Cumulative number of filter invocations which panicked, treated as non-matching.",
	})
	DocDBListenerFaultsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBListenerFaultsTotalKey,
		Help: "Cumulative number of listener notifications which panicked.",
	})
	DocDBFilterCacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DocDBFilterCacheLookupsTotalKey,
		Help: "Cumulative number of compiled filter cache lookups, by hit or miss.",
	}, []string{"result"})
	DocDBBlobsCollectedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: DocDBBlobsCollectedTotalKey,
		Help: "Cumulative number of unreferenced blobs garbage-collected by compaction.",
	})
)

// DocDBCollectors returns the metrics used by docdb.Database.
func DocDBCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		DocDBTransactionsTotal,
		DocDBRevisionsInsertedTotal,
		DocDBChangesDeliveredTotal,
		DocDBChangesDiscardedTotal,
		DocDBViewsInvalidatedTotal,
		DocDBViewRowsIndexedTotal,
		DocDBViewUpdateDuration,
		DocDBFilterFaultsTotal,
		DocDBListenerFaultsTotal,
		DocDBFilterCacheLookupsTotal,
		DocDBBlobsCollectedTotal,
	}
}
