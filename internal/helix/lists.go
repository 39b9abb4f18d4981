// Castellan - Twitch Channel State Synchronization and Event Fan-Out
// Copyright 2026 R. Mellis (rmellis)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rmellis/castellan

package helix

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rmellis/castellan/internal/models"
)

// GetModerators fetches the complete moderator list, following the cursor
// until the server exhausts it.
func (c *Client) GetModerators(ctx context.Context) ([]models.HelixUser, error) {
	var all []models.HelixUser

	err := c.paginate(ctx, "/moderation/moderators", nil, func(cursor string) (string, error) {
		var resp models.ModeratorsResponse
		if err := c.get(ctx, "/moderation/moderators", c.pageQuery(cursor, nil), &resp); err != nil {
			return "", err
		}
		all = append(all, resp.Data...)
		return resp.Pagination.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get moderators: %w", err)
	}

	return all, nil
}

// GetVIPs fetches the complete VIP list.
func (c *Client) GetVIPs(ctx context.Context) ([]models.HelixUser, error) {
	var all []models.HelixUser

	err := c.paginate(ctx, "/channels/vips", nil, func(cursor string) (string, error) {
		var resp models.VIPsResponse
		if err := c.get(ctx, "/channels/vips", c.pageQuery(cursor, nil), &resp); err != nil {
			return "", err
		}
		all = append(all, resp.Data...)
		return resp.Pagination.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get vips: %w", err)
	}

	return all, nil
}

// GetBroadcasterSubscriptions fetches every active subscription.
func (c *Client) GetBroadcasterSubscriptions(ctx context.Context) ([]models.BroadcasterSubscription, error) {
	var all []models.BroadcasterSubscription

	err := c.paginate(ctx, "/subscriptions", nil, func(cursor string) (string, error) {
		var resp models.SubscriptionsResponse
		if err := c.get(ctx, "/subscriptions", c.pageQuery(cursor, nil), &resp); err != nil {
			return "", err
		}
		all = append(all, resp.Data...)
		return resp.Pagination.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}

	return all, nil
}

// GetChannelFollowers fetches the full follower list.
func (c *Client) GetChannelFollowers(ctx context.Context) ([]models.ChannelFollower, error) {
	var all []models.ChannelFollower

	err := c.paginate(ctx, "/channels/followers", nil, func(cursor string) (string, error) {
		var resp models.FollowersResponse
		if err := c.get(ctx, "/channels/followers", c.pageQuery(cursor, nil), &resp); err != nil {
			return "", err
		}
		all = append(all, resp.Data...)
		return resp.Pagination.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get followers: %w", err)
	}

	return all, nil
}

// GetBannedUsers fetches the current ban/timeout list.
func (c *Client) GetBannedUsers(ctx context.Context) ([]models.BannedUser, error) {
	var all []models.BannedUser

	err := c.paginate(ctx, "/moderation/banned", nil, func(cursor string) (string, error) {
		var resp models.BannedUsersResponse
		if err := c.get(ctx, "/moderation/banned", c.pageQuery(cursor, nil), &resp); err != nil {
			return "", err
		}
		all = append(all, resp.Data...)
		return resp.Pagination.Cursor, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get banned users: %w", err)
	}

	return all, nil
}

// pageQuery builds the standard list query: broadcaster id, page size and
// the continuation cursor when present.
func (c *Client) pageQuery(cursor string, extra url.Values) url.Values {
	query := url.Values{}
	for k, vs := range extra {
		query[k] = vs
	}
	query.Set("broadcaster_id", c.broadcasterID)
	query.Set("first", strconv.Itoa(pageSize))
	if cursor != "" {
		query.Set("after", cursor)
	}
	return query
}

// paginate drives a cursor loop: fetchPage is called with the current
// cursor and returns the next one; an empty cursor ends the loop. maxPages
// bounds the loop against a server that never returns an empty cursor.
func (c *Client) paginate(ctx context.Context, path string, _ url.Values, fetchPage func(cursor string) (string, error)) error {
	cursor := ""
	for page := 0; page < maxPages; page++ {
		next, err := fetchPage(cursor)
		if err != nil {
			return err
		}
		if next == "" {
			return nil
		}
		cursor = next
	}

	return fmt.Errorf("%s: pagination exceeded %d pages", path, maxPages)
}
