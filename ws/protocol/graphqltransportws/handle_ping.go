package graphqltransportws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handlePing handles a ping message. Every ping is answered with a
// pong carrying the same payload unless the onPing hook replaces it.
func (c *wsConnection) handlePing(msg protocol.RawMessage) {
	c.log.Tracef("received PING message")

	if !c.Acknowledged() {
		c.log.Errorf("received PING message before acknowledgement")
		c.close(Unauthorized, "Unauthorized")
		return
	}

	var payload map[string]interface{}

	if msg.HasPayload() {
		payload, _ = msg.RecordPayload()
	}

	if c.config.OnPing != nil {
		if maybePayload := c.config.OnPing(c, payload); maybePayload != nil {
			payload = maybePayload
		}
	}

	c.log.Tracef("replying to PING message with PONG")

	var p interface{}
	if payload != nil {
		p = payload
	}
	c.sendMessage(NewPongMessage(p))
}
