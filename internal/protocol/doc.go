// Package protocol is the wire format between a host and its participants.
//
// Participant -> Host
//
//	join:
//	  id: string    transport-assigned identifier of the sender
//	  name: string  display name
//
//	leave:
//	  id: string
//
// Host -> Participant
//
//	stateUpdate:
//	  playerData: { id, name, index?, status, eliminated?, role?, characterImage? }
//	  playersList: [{ id, name, index?, status, eliminated? }]
//	  gameState: { phase, day, winner? }
//
//	hostLeft: {}
//
// Every frame is a JSON object carrying "type". Decode rejects unknown types,
// unknown fields and missing required fields with ErrInvalidMessage.
package protocol
