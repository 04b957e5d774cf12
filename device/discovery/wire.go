package discovery

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kabili207/meshroute/core"
	"github.com/kabili207/meshroute/core/codec"
)

// sendRequest hop-encrypts and sends req to neighbor.
func (e *Engine) sendRequest(ctx context.Context, neighbor core.Address, req codec.RouteRequest) error {
	return e.sendEnvelope(ctx, neighbor, codec.MessageTypeRouteRequest, req.Encode())
}

// sendResponse hop-encrypts and sends resp to neighbor.
func (e *Engine) sendResponse(ctx context.Context, neighbor core.Address, resp codec.RouteResponse) error {
	return e.sendEnvelope(ctx, neighbor, codec.MessageTypeRouteResponse, resp.Encode())
}

// replyStatus is a convenience wrapper for the common case of sending a
// bare status response; hop_count only carries meaning for ROUTE_FOUND.
func (e *Engine) replyStatus(ctx context.Context, neighbor core.Address, requestUUID uuid.UUID, status codec.Status, hopCount uint32) {
	resp := codec.RouteResponse{RequestUUID: requestUUID, Status: status, HopCount: hopCount}
	if err := e.sendResponse(ctx, neighbor, resp); err != nil {
		e.log.Error("failed to send response", "neighbor", neighbor, "status", status, "error", err)
	}
}

func (e *Engine) sendEnvelope(ctx context.Context, neighbor core.Address, msgType codec.MessageType, innerPlaintext []byte) error {
	hopCiphertext, err := e.crypto.Encrypt(neighbor, innerPlaintext)
	if err != nil {
		return fmt.Errorf("hop-encrypting for %s: %w", neighbor, err)
	}
	envelope := codec.EncodeEnvelope(codec.Envelope{
		MessageType:   msgType,
		EncryptedData: hopCiphertext,
	})
	if _, err := e.transport.SendToNeighbor(ctx, neighbor, envelope); err != nil {
		return fmt.Errorf("sending to %s: %w", neighbor, err)
	}
	return nil
}
