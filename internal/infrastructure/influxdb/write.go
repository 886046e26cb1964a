package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementSessions = "gateway_sessions"
	MeasurementLogins   = "gateway_logins"
)

// WriteSessions records the number of live WebSocket sessions and the
// running broadcast total.
func (c *Client) WriteSessions(active int, broadcasts uint64) {
	c.WritePoint(MeasurementSessions, nil, map[string]interface{}{
		"active":     active,
		"broadcasts": broadcasts,
	})
}

// WriteLogin records one login attempt tagged with its outcome
// ("success", "failure" or "throttled").
func (c *Client) WriteLogin(result string) {
	c.WritePoint(MeasurementLogins,
		map[string]string{"result": result},
		map[string]interface{}{"count": 1},
	)
}

// WritePoint writes a point stamped with the current time.
//
// Tags should be low cardinality. Dropped silently when not connected.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
