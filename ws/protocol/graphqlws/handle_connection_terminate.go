package graphqlws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handleConnectionTerminate closes the connection normally, canceling
// every active operation on the way out
func (c *wsConnection) handleConnectionTerminate(msg protocol.RawMessage) {
	c.log.Debugf("received CONNECTION_TERMINATE message")
	c.close(NormalClosure, "client requested normal closure: terminate request")
}
