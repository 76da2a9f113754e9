package graphqltransportws

import (
	"github.com/bhoriuchi/graphql-ws-server/ws/protocol"
)

// handleConnectionInit handles the connection init
func (c *wsConnection) handleConnectionInit(msg protocol.RawMessage) {
	var (
		err                error
		payloadOrPermitted interface{}
		ackPayload         interface{}
	)

	c.initMx.Lock()
	c.log.Tracef("received CONNECTION_INIT message")

	// the init timer won the race, the connection is going away
	if c.timedOut {
		c.initMx.Unlock()
		return
	}

	// check for previous initialisation requests
	if c.connectionInitReceived {
		c.initMx.Unlock()
		c.log.Errorf("received duplicate CONNECTION_INIT message")
		c.close(TooManyInitialisationRequests, "Too many initialisation requests")
		return
	}

	c.connectionInitReceived = true
	if c.initTimer != nil {
		c.initTimer.Stop()
	}
	c.initMx.Unlock()

	// check for payload and add it to the connection params
	if msg.HasPayload() {
		payload, err := msg.RecordPayload()
		if err != nil {
			c.log.WithError(err).Errorf("invalid CONNECTION_INIT payload")
			c.close(BadRequest, err.Error())
			return
		}
		c.connectionParams = payload
	}

	// onConnect hook
	if c.config.OnConnect != nil {
		payloadOrPermitted, err = c.config.OnConnect(c, c.connectionParams)
		if err != nil {
			c.log.WithError(err).Errorf("onConnect hook rejected the connection")
			c.close(Forbidden, "Forbidden")
			return
		}
	}

	switch v := payloadOrPermitted.(type) {
	case bool:
		if !v {
			c.log.Errorf("onConnect hook returned false")
			c.close(Forbidden, "Forbidden")
			return
		}
		ackPayload = nil
	default:
		ackPayload = v
	}

	c.ackMx.Lock()
	c.sendMessage(NewAckMessage(ackPayload))
	c.acknowledged = true
	c.ackMx.Unlock()

	c.log.Debugf("acknowledged connection")
	c.startPinger()
}
