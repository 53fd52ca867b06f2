package outbound

import "context"

// SQSMessage is one queued sync request as delivered by the queue.
type SQSMessage struct {
	MessageID     string
	ReceiptHandle string
	Body          string
}

// SyncRequest is the JSON body of an on-demand sync message. WalletID wins
// when both it and the Chain/Address pair are set.
type SyncRequest struct {
	WalletID string `json:"walletId,omitempty"`
	Chain    string `json:"chain,omitempty"`
	Address  string `json:"address,omitempty"`
	Force    bool   `json:"force,omitempty"`
}

// SQSConsumer pulls sync requests off a queue. Messages that are not deleted
// become visible again after the queue's visibility timeout.
type SQSConsumer interface {
	// ReceiveMessages returns at most maxMessages, or none when the queue is idle.
	ReceiveMessages(ctx context.Context, maxMessages int) ([]SQSMessage, error)
	DeleteMessage(ctx context.Context, receiptHandle string) error
	Close() error
}
