// Package resilience groups the fault tolerance helpers used by components.
//
// The subpackages provide:
//   - retry: fixed-delay connect loops for Prepare, exponential backoff for run loops
//   - circuitbreaker: gobreaker wrapper guarding outbound HTTP calls
//
// Usage Example:
//
//	err := retry.Connect(ctx, "db", retry.ConnectConfig{MaxAttempts: 10, Delay: time.Second}, ping)
//
//	cb := circuitbreaker.New(circuitbreaker.OutboundHTTPConfig("billing"))
//	result, err := cb.Execute(func() (interface{}, error) {
//	    return transport.RoundTrip(req)
//	})
package resilience
