package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/pscheid92/roomstream/internal/domain"
)

// heartbeatFrame is an SSE comment. Browsers and the stream client ignore it for dispatch.
var heartbeatFrame = []byte(": heartbeat\n\n")

// EncodeFrame renders an envelope as a single SSE data frame.
func EncodeFrame(env domain.Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", env.ID, err)
	}

	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
