package solana

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc/ws"
)

// SlotSubscription yields slot-advance notifications until unsubscribed.
type SlotSubscription interface {
	Recv(ctx context.Context) (*ws.SlotResult, error)
	Unsubscribe()
}

// WSClient is an interface over the websocket client so the tracker can be
// tested with a scripted slot feed.
type WSClient interface {
	SlotSubscribe() (SlotSubscription, error)
	Close()
}

// realWSClient adapts the solana-go websocket client to our WSClient
// interface. The adapter exists because the concrete SlotSubscribe returns a
// concrete subscription type.
type realWSClient struct {
	client *ws.Client
}

// ConnectWS establishes a websocket connection to the given endpoint.
func ConnectWS(ctx context.Context, wsURL string) (WSClient, error) {
	client, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: websocket connect %s: %v", ErrConnection, wsURL, err)
	}
	return &realWSClient{client: client}, nil
}

func (r *realWSClient) SlotSubscribe() (SlotSubscription, error) {
	sub, err := r.client.SlotSubscribe()
	if err != nil {
		return nil, fmt.Errorf("slot subscribe: %w", err)
	}
	return sub, nil
}

func (r *realWSClient) Close() {
	r.client.Close()
}
