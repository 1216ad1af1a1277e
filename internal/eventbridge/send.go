package eventbridge

import (
	"encoding/json"
	"fmt"
	"net"
	"syscall"
	"time"

	"regimesync/pkg/errors"
	"regimesync/pkg/logger"
)

const sendTimeout = 5 * time.Second

// SendEvent pushes one JSON event to a local event bridge over a
// short-lived connection. A refused connection only means the receiver
// is not running, so it is logged and swallowed.
func SendEvent(port int, eventType string, payload interface{}, log *logger.Logger) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s payload", eventType)
	}

	data, err := json.Marshal(Event{Type: eventType, Payload: raw})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s event", eventType)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)

	conn, err := net.DialTimeout("tcp", addr, sendTimeout)
	if err != nil {
		if errors.Is(err, syscall.ECONNREFUSED) {
			log.Warnw("Event bridge not listening", "addr", addr, "type", eventType)
			return nil
		}
		return errors.Wrapf(err, "failed to dial event bridge at %s", addr)
	}
	defer conn.Close()

	_ = conn.SetWriteDeadline(time.Now().Add(sendTimeout))
	if _, err := conn.Write(data); err != nil {
		return errors.Wrapf(err, "failed to send %s event", eventType)
	}

	return nil
}
