package graphqlws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handleStop cancels the identified operation and echoes a complete
// message back to the client
func (c *wsConnection) handleStop(msg protocol.RawMessage) {
	id, err := msg.ID()
	if err != nil {
		c.log.Debugf("received STOP message")
		c.log.WithError(err).Errorf("stop operation failed")
		c.sendError("", err)
		return
	}

	c.log.WithField("operationId", id).Debugf("received STOP message")

	// the id is released synchronously so the client can reuse it
	// immediately, the operation goroutine cleans up on its own time
	if sub := c.mgr.Unsubscribe(id); sub != nil {
		c.sendMessage(NewCompleteMessage(id))
	}
}
