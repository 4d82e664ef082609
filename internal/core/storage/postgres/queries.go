package postgres

const (
	querySaveTransaction = `
		INSERT INTO transactions (id, amount, occurred_at, source, ingested_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING ingest_seq
	`

	queryTransactionsByDateRange = `
		SELECT id, amount, occurred_at, source, ingested_at, ingest_seq
		FROM transactions
		WHERE occurred_at >= $1 AND occurred_at <= $2
		ORDER BY occurred_at ASC, ingest_seq ASC
	`

	queryGetAggregate = `
		SELECT granularity, year, month, seq,
		       period_start, period_end,
		       total_amount, total_count, document_ids,
		       notified_level1, notified_level2, notified_level3, summary_sent,
		       version, last_updated, last_updated_by
		FROM period_aggregates
		WHERE granularity = $1 AND year = $2 AND month = $3 AND seq = $4
	`

	queryCreateAggregate = `
		INSERT INTO period_aggregates (
			granularity, year, month, seq,
			period_start, period_end,
			total_amount, total_count, document_ids,
			notified_level1, notified_level2, notified_level3, summary_sent,
			version, last_updated, last_updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	// Monotonic flag update: true arguments stick, false arguments are inert.
	queryMarkNotified = `
		UPDATE period_aggregates
		SET notified_level1 = notified_level1 OR $5,
		    notified_level2 = notified_level2 OR $6,
		    notified_level3 = notified_level3 OR $7,
		    summary_sent    = summary_sent OR $8,
		    last_updated    = $9,
		    last_updated_by = $10
		WHERE granularity = $1 AND year = $2 AND month = $3 AND seq = $4
	`

	queryAggregateVersion = `
		SELECT version FROM period_aggregates
		WHERE granularity = $1 AND year = $2 AND month = $3 AND seq = $4
	`
)
