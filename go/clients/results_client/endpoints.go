package results_client

const (
	ResultEndpoint = "/multiplayer/result"

	IdempotencyKeyHeader = "Idempotency-Key"
)
