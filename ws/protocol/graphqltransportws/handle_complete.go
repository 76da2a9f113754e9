package graphqltransportws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handleComplete cancels the identified operation. The client asked
// for the stop, so no complete message is echoed back.
func (c *wsConnection) handleComplete(msg protocol.RawMessage) {
	id, err := msg.ID()
	if err != nil {
		c.log.WithError(err).Errorf("invalid complete message")
		c.close(BadRequest, err.Error())
		return
	}

	c.log.WithField("operationId", id).Tracef("received COMPLETE message")
	c.mgr.Unsubscribe(id)
}
