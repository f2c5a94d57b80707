// Package models defines the data structures shared by the contract ingestion pipeline.
package models

import "time"

// ContractType is the kind of listing issued in-game.
type ContractType string

const (
	ContractTypeItemExchange ContractType = "item_exchange"
	ContractTypeAuction      ContractType = "auction"
	ContractTypeCourier      ContractType = "courier"
	ContractTypeLoan         ContractType = "loan"
	ContractTypeUnknown      ContractType = "unknown"
)

// ContractStatus is the lifecycle state of a contract.
// Transitions only move away from outstanding; a contract never returns to it.
type ContractStatus string

const (
	StatusOutstanding ContractStatus = "outstanding"
	StatusInProgress  ContractStatus = "in_progress"
	StatusFinished    ContractStatus = "finished"
	StatusFailed      ContractStatus = "failed"
	StatusCancelled   ContractStatus = "cancelled"
	StatusRejected    ContractStatus = "rejected"
	StatusDeleted     ContractStatus = "deleted"
	StatusReversed    ContractStatus = "reversed"
)

// IsTerminal reports whether the status can no longer change.
// in_progress still moves to finished or failed, so only the closing states count.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusCancelled, StatusRejected, StatusDeleted, StatusReversed:
		return true
	}
	return false
}

// Source identifies where a contract listing was observed.
type Source string

const (
	SourcePublic      Source = "public"
	SourceCorporation Source = "corporation"
)

// Contract is a raw contract listing as returned by the game API.
// Optional fields are pointers so that "absent" stays distinct from zero.
type Contract struct {
	ContractID          int64          `json:"contract_id"`
	Type                ContractType   `json:"type"`
	Status              ContractStatus `json:"status,omitempty"`
	IssuerID            int64          `json:"issuer_id"`
	IssuerCorporationID int64          `json:"issuer_corporation_id"`
	AssigneeID          int64          `json:"assignee_id,omitempty"`
	AcceptorID          int64          `json:"acceptor_id,omitempty"`
	DateIssued          time.Time      `json:"date_issued"`
	DateExpired         time.Time      `json:"date_expired"`
	DateAccepted        *time.Time     `json:"date_accepted,omitempty"`
	DateCompleted       *time.Time     `json:"date_completed,omitempty"`
	Price               *float64       `json:"price,omitempty"`
	Reward              *float64       `json:"reward,omitempty"`
	Collateral          *float64       `json:"collateral,omitempty"`
	Buyout              *float64       `json:"buyout,omitempty"`
	Volume              *float64       `json:"volume,omitempty"`
	DaysToComplete      int            `json:"days_to_complete,omitempty"`
	Title               string         `json:"title,omitempty"`
	StartLocationID     int64          `json:"start_location_id,omitempty"`
	EndLocationID       int64          `json:"end_location_id,omitempty"`
	ForCorporation      bool           `json:"for_corporation,omitempty"`

	// Set by the fetcher, not by the API.
	Source   Source `json:"-"`
	RegionID int64  `json:"-"`
	// CorporationID is the corporation whose listing returned the contract.
	CorporationID int64 `json:"-"`
}

// EffectiveStatus returns the contract status. Public listings omit the
// field because only outstanding contracts are listed there.
func (c Contract) EffectiveStatus() ContractStatus {
	if c.Status == "" {
		return StatusOutstanding
	}
	return c.Status
}

// ContractItem is a single line item of a contract.
type ContractItem struct {
	RecordID           int64 `json:"record_id"`
	TypeID             int64 `json:"type_id"`
	Quantity           int64 `json:"quantity"`
	IsIncluded         bool  `json:"is_included"`
	IsBlueprintCopy    *bool `json:"is_blueprint_copy,omitempty"`
	MaterialEfficiency *int  `json:"material_efficiency,omitempty"`
	TimeEfficiency     *int  `json:"time_efficiency,omitempty"`
	Runs               *int  `json:"runs,omitempty"`
}

// ItemSet carries a contract's items together with whether they are known at all.
// An unknown set (fetch failed, listing expired) must never be described as empty.
type ItemSet struct {
	known bool
	items []ContractItem
}

// KnownItems wraps a fetched item list. A nil or empty list means the
// contract really has no items.
func KnownItems(items []ContractItem) ItemSet {
	if items == nil {
		items = []ContractItem{}
	}
	return ItemSet{known: true, items: items}
}

// UnknownItems is the item set of a contract whose items could not be retrieved.
func UnknownItems() ItemSet {
	return ItemSet{}
}

// Known reports whether the item list was retrieved.
func (s ItemSet) Known() bool { return s.known }

// Items returns the item list; nil when unknown.
func (s ItemSet) Items() []ContractItem { return s.items }

// Len returns the number of items, 0 when unknown.
func (s ItemSet) Len() int { return len(s.items) }
