package graphqltransportws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handlePong handles a pong message. Pongs are informational, no
// response is sent.
func (c *wsConnection) handlePong(msg protocol.RawMessage) {
	c.log.Tracef("received PONG message")

	if !c.Acknowledged() {
		c.log.Errorf("received PONG message before acknowledgement")
		c.close(Unauthorized, "Unauthorized")
		return
	}

	if c.config.OnPong == nil {
		return
	}

	var payload map[string]interface{}

	if msg.HasPayload() {
		payload, _ = msg.RecordPayload()
	}

	c.config.OnPong(c, payload)
}
