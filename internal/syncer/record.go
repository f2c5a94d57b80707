package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/wordpress"
)

// Meta keys written on contract records.
const (
	MetaContractID   = "contract_id"
	MetaContractHash = "contract_hash"
	MetaItems        = "items"
	MetaThumbnail    = "thumbnail_url"
)

const imageServer = "https://images.evetech.net/types"

// recordItem is the per-item shape stored in the items meta field.
type recordItem struct {
	TypeID         int64  `json:"type_id"`
	Name           string `json:"name"`
	Quantity       int64  `json:"quantity"`
	Included       bool   `json:"is_included"`
	Classification string `json:"classification,omitempty"`
	ME             *int   `json:"material_efficiency,omitempty"`
	TE             *int   `json:"time_efficiency,omitempty"`
	Runs           *int   `json:"runs,omitempty"`
}

// BuildRecord renders a resolved contract as a destination record. The
// contract_hash meta field fingerprints everything else in the record, so an
// unchanged contract produces an identical hash.
func BuildRecord(rc models.ResolvedContract) wordpress.PostInput {
	meta := map[string]any{
		MetaContractID:          rc.ContractID,
		"contract_type":         string(rc.Type),
		"status":                string(rc.Status),
		"source":                string(rc.Source),
		"price":                 rc.Price,
		"reward":                rc.Reward,
		"collateral":            rc.Collateral,
		"volume":                rc.Volume,
		"issuer_id":             rc.IssuerID,
		"issuer_corporation_id": rc.IssuerCorporationID,
		"date_issued":           formatTime(rc.DateIssued),
		"date_expired":          formatTime(rc.DateExpired),
		"start_location":        rc.StartLocation,
		"end_location":          rc.EndLocation,
		"items_known":           rc.ItemsKnown,
	}
	if rc.Buyout != nil {
		meta["buyout"] = *rc.Buyout
	}
	if rc.RegionID != 0 {
		meta["region_id"] = rc.RegionID
	}
	if rc.AssigneeID != 0 {
		meta["assignee_id"] = rc.AssigneeID
	}
	if rc.AcceptorID != 0 {
		meta["acceptor_id"] = rc.AcceptorID
	}
	if rc.DateAccepted != nil {
		meta["date_accepted"] = formatTime(*rc.DateAccepted)
	}
	if rc.DateCompleted != nil {
		meta["date_completed"] = formatTime(*rc.DateCompleted)
	}
	if rc.DaysToComplete != 0 {
		meta["days_to_complete"] = rc.DaysToComplete
	}
	if rc.IssuerTitle != "" {
		meta["issuer_title"] = rc.IssuerTitle
	}

	items := make([]recordItem, 0, len(rc.Items))
	for _, it := range rc.Items {
		ri := recordItem{
			TypeID:   it.TypeID,
			Name:     it.TypeName,
			Quantity: it.Quantity,
			Included: it.IsIncluded,
			ME:       it.ME,
			TE:       it.TE,
			Runs:     it.Runs,
		}
		if it.Classification != models.ClassNotBlueprint {
			ri.Classification = string(it.Classification)
		}
		items = append(items, ri)
	}
	itemsJSON, _ := json.Marshal(items)
	meta[MetaItems] = string(itemsJSON)

	if len(rc.Items) == 1 {
		meta[MetaThumbnail] = thumbnailURL(rc.Items[0])
	}

	in := wordpress.PostInput{
		Title: rc.Title,
		Slug:  models.ContractSlug(rc.ContractID),
		Meta:  meta,
	}
	meta[MetaContractHash] = recordHash(in)
	return in
}

// recordHash fingerprints title, slug and meta (minus the hash itself).
// encoding/json sorts map keys, which makes the encoding canonical.
func recordHash(in wordpress.PostInput) string {
	meta := make(map[string]any, len(in.Meta))
	for k, v := range in.Meta {
		if k != MetaContractHash {
			meta[k] = v
		}
	}
	b, _ := json.Marshal(struct {
		Title string         `json:"title"`
		Slug  string         `json:"slug"`
		Meta  map[string]any `json:"meta"`
	}{in.Title, in.Slug, meta})
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func thumbnailURL(it models.ResolvedItem) string {
	variant := "icon"
	if it.Classification.IsBlueprint() {
		variant = "bp"
		if it.Classification == models.ClassBPC {
			variant = "bpc"
		}
	}
	return fmt.Sprintf("%s/%d/%s", imageServer, it.TypeID, variant)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
