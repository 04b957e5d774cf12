package forwarding

import (
	"context"
	"fmt"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/codec"
)

// sendRoutedMessage hop-encrypts msg for nextHop and hands it to the
// transport, returning the transport-assigned payload id.
func (e *Engine) sendRoutedMessage(ctx context.Context, nextHop core.Address, msg codec.RoutedMessage) (uint64, error) {
	hopCiphertext, err := e.crypto.Encrypt(nextHop, msg.Encode())
	if err != nil {
		return 0, fmt.Errorf("hop-encrypting for %s: %w", nextHop, err)
	}
	envelope := codec.EncodeEnvelope(codec.Envelope{
		MessageType:   codec.MessageTypeRoutedMessage,
		EncryptedData: hopCiphertext,
	})
	payloadID, err := e.transport.SendToNeighbor(ctx, nextHop, envelope)
	if err != nil {
		return 0, fmt.Errorf("sending to %s: %w", nextHop, err)
	}
	return payloadID, nil
}
