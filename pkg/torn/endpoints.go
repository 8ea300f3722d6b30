package torn

import (
	"context"
	"strconv"
)

// User fetches the configured user's data for the given selections,
// e.g. "bars,profile".
func (c *Client) User(ctx context.Context, selections string) (Payload, error) {
	if c.userID == "" {
		return nil, ErrNoUserID
	}
	return c.Request(ctx, "user", c.userID, selections, nil)
}

// Cooldowns fetches the user's active cooldowns.
func (c *Client) Cooldowns(ctx context.Context) (Payload, error) {
	return c.User(ctx, "cooldowns")
}

// Gym fetches the user's gym information.
func (c *Client) Gym(ctx context.Context) (Payload, error) {
	return c.User(ctx, "gym")
}

// Crimes fetches the global crime catalogue.
func (c *Client) Crimes(ctx context.Context) (Payload, error) {
	return c.Request(ctx, "torn", "", "crimes", nil)
}

// MarketItem fetches market data for one item. selections defaults to
// "bazaar" when empty.
func (c *Client) MarketItem(ctx context.Context, itemID int, selections string) (Payload, error) {
	if selections == "" {
		selections = "bazaar"
	}
	return c.Request(ctx, "market", strconv.Itoa(itemID), selections, nil)
}

// PlanTrain records a read-only training plan in the audit log. No write
// request is ever issued against the upstream.
func (c *Client) PlanTrain(ctx context.Context, slot, points int, dryRun bool) (Payload, error) {
	plan := Payload{
		"action":  "train",
		"slot":    slot,
		"points":  points,
		"dry_run": dryRun,
	}
	if c.audit != nil {
		if err := c.audit.LogAction(ctx, "plan_train", map[string]any(plan), map[string]any{"planned": true}); err != nil {
			return nil, err
		}
	}
	return plan, nil
}
