package bridge

import (
	"context"

	"github.com/pwurbs/lights2mqtt/internal/serialconn"
)

// Run is the reader loop: it polls the controller, decodes state lines and
// publishes them until ctx is done. Connection loss is handled inside the
// connection's Poll, so the loop just keeps polling. Run returns nil on
// shutdown.
func (b *Bridge) Run(ctx context.Context) error {
	b.logger.Info("Reader loop started")
	defer b.logger.Info("Reader loop stopped")

	for ctx.Err() == nil {
		data := b.conn.Poll()
		if len(data) == 0 {
			if serialconn.SleepContext(ctx, b.idle) != nil {
				break
			}
			continue
		}
		for _, st := range b.codec.Feed(data) {
			b.logger.Debugf("RX: %s on=%t brightness=%d", st.Device, st.On, st.Brightness)
			b.HandleState(st)
		}
	}
	return nil
}
