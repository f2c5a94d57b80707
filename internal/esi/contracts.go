package esi

import (
	"context"
	"fmt"
	"strconv"

	"github.com/raphaelgruber/esisync/internal/models"
	"golang.org/x/oauth2"
)

// Maximum page sizes. A full page means another page may follow.
const (
	ContractsPageSize   = 1000
	PublicItemsPageSize = 5000
)

// Raw quantities reported on corporation contract items for blueprints.
const (
	rawQuantityOriginal = -1
	rawQuantityCopy     = -2
)

// corporationItem is the wire shape of a corporation contract item. It has no
// blueprint fields; blueprint kind is encoded in raw_quantity instead.
type corporationItem struct {
	RecordID    int64 `json:"record_id"`
	TypeID      int64 `json:"type_id"`
	Quantity    int64 `json:"quantity"`
	RawQuantity *int  `json:"raw_quantity,omitempty"`
	IsIncluded  bool  `json:"is_included"`
	IsSingleton bool  `json:"is_singleton"`
}

func (ci corporationItem) toModel() models.ContractItem {
	item := models.ContractItem{
		RecordID:   ci.RecordID,
		TypeID:     ci.TypeID,
		Quantity:   ci.Quantity,
		IsIncluded: ci.IsIncluded,
	}
	if ci.RawQuantity != nil {
		switch *ci.RawQuantity {
		case rawQuantityOriginal:
			item.Quantity = -1
		case rawQuantityCopy:
			isCopy := true
			item.IsBlueprintCopy = &isCopy
		}
	}
	return item
}

// PublicContracts returns one page of outstanding public contracts in a region.
// An empty slice means there is no such page.
func (c *Client) PublicContracts(ctx context.Context, regionID int64, page int) ([]models.Contract, error) {
	var out []models.Contract
	path := "/contracts/public/" + strconv.FormatInt(regionID, 10) + "/"
	if _, err := c.getJSON(ctx, path, pageQuery(page), nil, &out); err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("public contracts region %d page %d: %w", regionID, page, err)
	}
	for i := range out {
		out[i].Source = models.SourcePublic
		out[i].RegionID = regionID
	}
	return out, nil
}

// PublicContractItems returns one page of items of a public contract.
// ErrNoContent (204) and ErrNotFound mean the contract is gone and its items
// are unknown; callers must not treat that as an empty contract.
func (c *Client) PublicContractItems(ctx context.Context, contractID int64, page int) ([]models.ContractItem, error) {
	var out []models.ContractItem
	path := "/contracts/public/items/" + strconv.FormatInt(contractID, 10) + "/"
	if _, err := c.getJSON(ctx, path, pageQuery(page), nil, &out); err != nil {
		return nil, fmt.Errorf("public contract %d items page %d: %w", contractID, page, err)
	}
	return out, nil
}

// CorporationContracts returns one page of a corporation's contracts.
func (c *Client) CorporationContracts(ctx context.Context, ts oauth2.TokenSource, corporationID int64, page int) ([]models.Contract, error) {
	if ts == nil {
		return nil, ErrNoCredential
	}
	var out []models.Contract
	path := "/corporations/" + strconv.FormatInt(corporationID, 10) + "/contracts/"
	if _, err := c.getJSON(ctx, path, pageQuery(page), ts, &out); err != nil {
		if isNoData(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("corporation %d contracts page %d: %w", corporationID, page, err)
	}
	for i := range out {
		out[i].Source = models.SourceCorporation
	}
	return out, nil
}

// CorporationContractItems returns all items of a corporation contract.
func (c *Client) CorporationContractItems(ctx context.Context, ts oauth2.TokenSource, corporationID, contractID int64) ([]models.ContractItem, error) {
	if ts == nil {
		return nil, ErrNoCredential
	}
	var raw []corporationItem
	path := "/corporations/" + strconv.FormatInt(corporationID, 10) + "/contracts/" + strconv.FormatInt(contractID, 10) + "/items/"
	if _, err := c.getJSON(ctx, path, nil, ts, &raw); err != nil {
		return nil, fmt.Errorf("corporation %d contract %d items: %w", corporationID, contractID, err)
	}
	items := make([]models.ContractItem, 0, len(raw))
	for _, r := range raw {
		items = append(items, r.toModel())
	}
	return items, nil
}
