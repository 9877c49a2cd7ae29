package observability

const (
	MUsecaseRequests     MetricKey = "usecase_requests_total"
	MUsecaseDuration     MetricKey = "usecase_duration_seconds"
	MHTTPRequests        MetricKey = "http_requests_total"
	MHTTPRequestDuration MetricKey = "http_request_duration_seconds"
	MBusDispatches       MetricKey = "bus_dispatch_total"
	MBusPollDuration     MetricKey = "bus_poll_duration_seconds"
	MBusPublishFailures  MetricKey = "bus_publish_failed_total"
	MReplayEvents        MetricKey = "replay_events_total"
)
