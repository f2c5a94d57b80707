package models

import "time"

// Classification is the blueprint classification of a contract item.
type Classification string

const (
	// ClassNotBlueprint marks items whose type is not a blueprint.
	ClassNotBlueprint Classification = "none"
	ClassBPO          Classification = "bpo"
	ClassBPC          Classification = "bpc"
	// ClassUndetermined is used when the source signals do not allow a decision.
	ClassUndetermined Classification = "undetermined"
)

// IsBlueprint reports whether the classification applies to a blueprint type.
func (c Classification) IsBlueprint() bool {
	return c == ClassBPO || c == ClassBPC || c == ClassUndetermined
}

// Label returns the short human label used in titles ("BPO", "BPC").
// Empty for anything that does not assert original or copy.
func (c Classification) Label() string {
	switch c {
	case ClassBPO:
		return "BPO"
	case ClassBPC:
		return "BPC"
	}
	return ""
}

// ResolvedItem is a contract item with its resolved name and classification.
type ResolvedItem struct {
	TypeID         int64          `json:"type_id"`
	TypeName       string         `json:"type_name"`
	NameResolved   bool           `json:"name_resolved"`
	Quantity       int64          `json:"quantity"`
	IsIncluded     bool           `json:"is_included"`
	Classification Classification `json:"classification"`
	LowConfidence  bool           `json:"low_confidence,omitempty"`
	ME             *int           `json:"material_efficiency,omitempty"`
	TE             *int           `json:"time_efficiency,omitempty"`
	Runs           *int           `json:"runs,omitempty"`
}

// ResolvedContract is the immutable, fully-resolved snapshot of a contract.
// It is a pure function of the raw contract, its items and the resolved names.
type ResolvedContract struct {
	ContractID          int64          `json:"contract_id"`
	Type                ContractType   `json:"type"`
	Status              ContractStatus `json:"status"`
	Source              Source         `json:"source"`
	RegionID            int64          `json:"region_id,omitempty"`
	Title               string         `json:"title"`
	IssuerID            int64          `json:"issuer_id"`
	IssuerCorporationID int64          `json:"issuer_corporation_id"`
	AssigneeID          int64          `json:"assignee_id,omitempty"`
	AcceptorID          int64          `json:"acceptor_id,omitempty"`
	DateIssued          time.Time      `json:"date_issued"`
	DateExpired         time.Time      `json:"date_expired"`
	DateAccepted        *time.Time     `json:"date_accepted,omitempty"`
	DateCompleted       *time.Time     `json:"date_completed,omitempty"`
	Price               float64        `json:"price"`
	Reward              float64        `json:"reward"`
	Collateral          float64        `json:"collateral"`
	Buyout              *float64       `json:"buyout,omitempty"`
	Volume              float64        `json:"volume"`
	DaysToComplete      int            `json:"days_to_complete,omitempty"`
	IssuerTitle         string         `json:"issuer_title,omitempty"`
	StartLocationID     int64          `json:"start_location_id,omitempty"`
	StartLocation       string         `json:"start_location,omitempty"`
	EndLocationID       int64          `json:"end_location_id,omitempty"`
	EndLocation         string         `json:"end_location,omitempty"`
	ItemsKnown          bool           `json:"items_known"`
	Items               []ResolvedItem `json:"items"`
}

// NamesResolved reports whether every item's type name was resolved.
func (rc ResolvedContract) NamesResolved() bool {
	for _, it := range rc.Items {
		if !it.NameResolved {
			return false
		}
	}
	return true
}

// CacheEntry is what the contract cache stores per contract.
// Items are the raw items, kept so a status change can be re-expanded without refetching.
type CacheEntry struct {
	Resolved  ResolvedContract `json:"resolved"`
	Items     []ContractItem   `json:"items"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// ReviewItem flags something a human should look at after a run.
type ReviewItem struct {
	ContractID int64  `json:"contract_id"`
	TypeID     int64  `json:"type_id,omitempty"`
	TypeName   string `json:"type_name,omitempty"`
	Reason     string `json:"reason"`
}

// Review reasons.
const (
	ReviewUnresolvedName = "unresolved type name"
	ReviewUndetermined   = "blueprint classification undetermined"
	ReviewLowConfidence  = "blueprint original assumed from missing copy flag"
	ReviewItemsUnknown   = "contract items unknown"
)
