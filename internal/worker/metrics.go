package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// assetsProcessedTotal 按终态统计处理完成的资产数
	assetsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_assets_processed_total",
			Help: "Total number of assets that reached a terminal pipeline status",
		},
		[]string{"status"},
	)

	// duplicatesTotal 按命中方式统计重复判定
	duplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_duplicates_total",
			Help: "Total number of duplicate matches by method",
		},
		[]string{"method"},
	)

	// enrichmentErrorsTotal 按富化器种类统计失败
	enrichmentErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_enrichment_errors_total",
			Help: "Total number of enrichment failures by kind",
		},
		[]string{"kind"},
	)

	// backpressureSkipsTotal 背压导致的拉取跳过次数
	backpressureSkipsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_backpressure_skips_total",
			Help: "Total number of intake skips caused by backpressure",
		},
	)

	// manifestsReconciledTotal 从对象存储回灌的清单数
	manifestsReconciledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_manifests_reconciled_total",
			Help: "Total number of batch manifests reconciled from the blob store",
		},
	)
)
