package proxy

import (
	"context"
	"errors"
	"net"

	"mercator-hq/throttle/pkg/proxy/types"
)

// HandleUpstreamError maps an error from the upstream round trip to an error
// response: timeouts become 504, everything else 502. Error details are not
// exposed to the client.
func HandleUpstreamError(err error) *types.ErrorResponse {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewGatewayTimeoutError("The upstream service did not respond in time.")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return types.NewGatewayTimeoutError("The upstream service did not respond in time.")
	}

	return types.NewBadGatewayError("The upstream service is unavailable.")
}
