// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package helix

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rmellis/castellan/internal/models"
)

// SendChatMessage posts a message to the broadcaster's chat as the bot user.
func (c *Client) SendChatMessage(ctx context.Context, message string) error {
	req := models.SendChatMessageRequest{
		BroadcasterID: c.broadcasterID,
		SenderID:      c.botUserID,
		Message:       message,
	}

	if err := c.do(ctx, http.MethodPost, "/chat/messages", nil, req, nil); err != nil {
		return fmt.Errorf("send chat message: %w", err)
	}

	return nil
}
