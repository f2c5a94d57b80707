package esi

import (
	"context"
	"fmt"
	"strconv"

	"golang.org/x/oauth2"
)

// ID ranges for NPC locations.
const (
	systemIDMin  = 30_000_000
	systemIDMax  = 33_000_000
	stationIDMin = 60_000_000
	stationIDMax = 64_000_000
)

type namedEntity struct {
	Name string `json:"name"`
}

// TypeName resolves an item type ID.
func (c *Client) TypeName(ctx context.Context, typeID int64) (string, error) {
	return c.name(ctx, "/universe/types/"+strconv.FormatInt(typeID, 10)+"/", nil)
}

// LocationName resolves an NPC station or solar system ID.
func (c *Client) LocationName(ctx context.Context, locationID int64) (string, error) {
	switch {
	case locationID >= systemIDMin && locationID < systemIDMax:
		return c.name(ctx, "/universe/systems/"+strconv.FormatInt(locationID, 10)+"/", nil)
	case locationID >= stationIDMin && locationID < stationIDMax:
		return c.name(ctx, "/universe/stations/"+strconv.FormatInt(locationID, 10)+"/", nil)
	}
	return "", fmt.Errorf("location %d: %w", locationID, ErrNotFound)
}

// StructureName resolves a player structure. Requires a token of a character
// with docking access; structures it cannot see return ErrForbidden.
func (c *Client) StructureName(ctx context.Context, ts oauth2.TokenSource, structureID int64) (string, error) {
	if ts == nil {
		return "", ErrNoCredential
	}
	return c.name(ctx, "/universe/structures/"+strconv.FormatInt(structureID, 10)+"/", ts)
}

func (c *Client) name(ctx context.Context, path string, ts oauth2.TokenSource) (string, error) {
	var e namedEntity
	if _, err := c.getJSON(ctx, path, nil, ts, &e); err != nil {
		return "", err
	}
	if e.Name == "" {
		return "", fmt.Errorf("%s: empty name", path)
	}
	return e.Name, nil
}

// Names adapts a Client to the name cache's lookup interface.
// Structures authenticates structure lookups; without it they fail with ErrNoCredential.
type Names struct {
	Client     *Client
	Structures oauth2.TokenSource
}

func (n Names) TypeName(ctx context.Context, id int64) (string, error) {
	return n.Client.TypeName(ctx, id)
}

func (n Names) LocationName(ctx context.Context, id int64) (string, error) {
	return n.Client.LocationName(ctx, id)
}

func (n Names) StructureName(ctx context.Context, id int64) (string, error) {
	return n.Client.StructureName(ctx, n.Structures, id)
}
