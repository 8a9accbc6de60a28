package models

import "time"

// SubscriptionGroup is a user's set of subscribed channels. There is one per user
// and its id equals the owner's user id.
type SubscriptionGroup struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GroupChannel is a row of the subscription group / channel join table.
type GroupChannel struct {
	SubscriptionGroupID string `json:"subscriptionGroupId"`
	ChannelID           string `json:"channelId"`
}
