package graphqlws

import (
	"time"

	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handleConnectionInit handles the connection init
func (c *wsConnection) handleConnectionInit(msg protocol.RawMessage) {
	c.log.Tracef("received CONNECTION_INIT message")

	// the deprecated protocol tolerates duplicate inits, the first
	// one keeps governing the connection
	if c.ConnectionInitReceived() {
		c.log.Warnf("received multiple CONNECTION_INIT messages, ignoring duplicates")
		return
	}

	// check for payload and add it to the connection params
	if msg.HasPayload() {
		payload, err := msg.RecordPayload()
		if err != nil {
			c.log.WithError(err).Errorf("invalid CONNECTION_INIT payload")
			c.close(ProtocolError, err.Error())
			return
		}
		c.connectionParams = payload
	}

	// onConnect hook may reject the connection or replace the
	// connection params
	if c.config.OnConnect != nil {
		maybeParams, err := c.config.OnConnect(c, msg.Payload())
		if err != nil {
			c.log.WithError(err).Errorf("onConnect hook rejected the connection")
			c.rejectInit(err.Error())
			return
		}

		switch v := maybeParams.(type) {
		case bool:
			if !v {
				c.log.Errorf("onConnect hook returned false")
				c.rejectInit("prohibited connection")
				return
			}
		case map[string]interface{}:
			c.connectionParams = v
		}
	}

	c.initMx.Lock()
	c.connectionInitReceived = true
	c.initMx.Unlock()

	c.log.Tracef("connection initialized")
	c.sendMessage(NewAckMessage())
	c.startKeepAlive()
}

// rejectInit sends a connection_error frame, leaves the socket open
// just long enough to flush it, then closes abnormally
func (c *wsConnection) rejectInit(message string) {
	c.sendMessage(NewConnectionErrorMessage("", message))
	time.Sleep(10 * time.Millisecond)
	c.close(UnexpectedCondition, message)
}
