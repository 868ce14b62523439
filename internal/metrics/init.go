package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, file := range []string{"main", "wal", "shm"} {
		DBSizeBytes.WithLabelValues(file)
	}

	for _, op := range []string{"initialize_schema", "create_job", "get_job", "update_job",
		"find_completed", "list_expired", "insert_lock", "extend_lock", "delete_lock", "sweep_locks", "count_jobs", "get_metadata", "set_metadata"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, mode := range []string{"file", "api"} {
		for _, origin := range []string{"new", "cache_hit", "attached"} {
			JobsCreatedTotal.WithLabelValues(mode, origin)
		}
		JobsFinishedTotal.WithLabelValues(mode, "completed")
		JobsFinishedTotal.WithLabelValues(mode, "failed")
		JobDuration.WithLabelValues(mode)
	}

	for _, status := range []string{"pending", "processing", "completed", "failed", "expired"} {
		JobsByStatus.WithLabelValues(status)
	}

	for _, reason := range []string{"invalid_reference", "invalid_params", "already_processing", "store_error"} {
		JobsRejectedTotal.WithLabelValues(reason)
	}

	for _, result := range []string{"acquired", "held", "error"} {
		DedupAcquireTotal.WithLabelValues(result)
	}

	for _, reason := range []string{"absent", "expired", "missing_artifact"} {
		CacheMissesTotal.WithLabelValues(reason)
	}
	for _, reason := range []string{"capacity", "ttl", "missing_artifact", "removed"} {
		CacheEvictionsTotal.WithLabelValues(reason)
	}

	for _, tool := range []string{"extractor", "transcoder"} {
		for _, op := range []string{"probe", "download", "transcode", "stream"} {
			ToolInvocationsTotal.WithLabelValues(tool, op, "success")
			ToolInvocationsTotal.WithLabelValues(tool, op, "error")
			ToolDuration.WithLabelValues(tool, op)
		}
	}

	for _, status := range []string{"success", "error"} {
		ConverterRequestsTotal.WithLabelValues(status)
	}

	for _, outcome := range []string{"completed", "client_gone", "failed"} {
		StreamsTotal.WithLabelValues(outcome)
	}

	for _, op := range []string{"stat", "open", "remove", "rename"} {
		for _, volume := range []string{"artifacts", "temp", "database", "unknown"} {
			FilesystemRetryDuration.WithLabelValues(op, volume)
		}
	}
}
