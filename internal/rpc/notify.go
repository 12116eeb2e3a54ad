package rpc

import (
	"context"
	"net/http"

	"github.com/pkg/errors"
)

// NotifyClient manages the address list of provider address-activity
// webhooks.
type NotifyClient struct {
	client *Client
}

// NewNotifyClient expects a Client built with AuthHeader "X-Alchemy-Token".
func NewNotifyClient(client *Client) *NotifyClient {
	return &NotifyClient{client: client}
}

type updateWebhookAddresses struct {
	WebhookID         string   `json:"webhook_id"`
	AddressesToAdd    []string `json:"addresses_to_add"`
	AddressesToRemove []string `json:"addresses_to_remove"`
}

// AddAddresses starts delivering activity of addresses to webhookID.
func (n *NotifyClient) AddAddresses(ctx context.Context, webhookID string, addresses ...string) error {
	if len(addresses) == 0 {
		return nil
	}
	_, err := n.client.Call(ctx, http.MethodPatch, "/update-webhook-addresses", updateWebhookAddresses{
		WebhookID:         webhookID,
		AddressesToAdd:    addresses,
		AddressesToRemove: []string{},
	})
	return errors.Wrapf(err, "register %d addresses with webhook %s", len(addresses), webhookID)
}
