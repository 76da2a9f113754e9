package protocol

const (
	// GraphQLWS is the deprecated graphql-ws subprotocol
	// https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
	GraphQLWS = "graphql-ws"

	// GraphQLTransportWS is the graphql-transport-ws subprotocol
	// https://github.com/enisdenjo/graphql-ws/blob/master/PROTOCOL.md
	GraphQLTransportWS = "graphql-transport-ws"
)

// Subprotocols returns the subprotocols this package implements
func Subprotocols() []string {
	return []string{GraphQLTransportWS, GraphQLWS}
}

// Negotiate selects the subprotocol governing a connection. The first
// protocol in the client's offered order that the server supports wins,
// so the client's preference decides when both peers support both.
func Negotiate(offered []string, supported []string) (string, bool) {
	for _, offer := range offered {
		for _, sub := range supported {
			if offer == sub {
				return offer, true
			}
		}
	}

	return "", false
}
