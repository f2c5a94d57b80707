// Package expander turns raw contracts into resolved contracts: item names,
// blueprint classification, location names and a synthesized title.
package expander

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/esisync/internal/classify"
	"github.com/raphaelgruber/esisync/internal/metrics"
	"github.com/raphaelgruber/esisync/internal/models"
	"github.com/raphaelgruber/esisync/internal/namecache"
)

// Names resolves IDs to display names.
type Names interface {
	Resolve(ctx context.Context, kind namecache.Kind, id int64) (string, bool)
	ResolveLocation(ctx context.Context, id int64) (string, bool)
}

// Expander resolves contracts.
type Expander struct {
	names   Names
	log     *slog.Logger
	metrics *metrics.Collector
}

// New creates an expander. log and m may be nil.
func New(names Names, log *slog.Logger, m *metrics.Collector) *Expander {
	if log == nil {
		log = slog.Default()
	}
	return &Expander{names: names, log: log.With("component", "expander"), metrics: m}
}

// Expand resolves c with the given items. It never fails: names that cannot
// be resolved fall back to placeholders and are flagged by Review.
func (e *Expander) Expand(ctx context.Context, c models.Contract, items models.ItemSet) models.ResolvedContract {
	defer e.metrics.Time(metrics.OpExpand, time.Now(), nil)

	rc := models.ResolvedContract{
		ContractID:          c.ContractID,
		Type:                c.Type,
		Status:              c.EffectiveStatus(),
		Source:              c.Source,
		RegionID:            c.RegionID,
		IssuerID:            c.IssuerID,
		IssuerCorporationID: c.IssuerCorporationID,
		AssigneeID:          c.AssigneeID,
		AcceptorID:          c.AcceptorID,
		DateIssued:          c.DateIssued,
		DateExpired:         c.DateExpired,
		DateAccepted:        c.DateAccepted,
		DateCompleted:       c.DateCompleted,
		Price:               deref(c.Price),
		Reward:              deref(c.Reward),
		Collateral:          deref(c.Collateral),
		Buyout:              c.Buyout,
		Volume:              deref(c.Volume),
		DaysToComplete:      c.DaysToComplete,
		IssuerTitle:         c.Title,
		StartLocationID:     c.StartLocationID,
		EndLocationID:       c.EndLocationID,
		ItemsKnown:          items.Known(),
	}

	if c.StartLocationID != 0 {
		rc.StartLocation, _ = e.names.ResolveLocation(ctx, c.StartLocationID)
	}
	if c.EndLocationID != 0 {
		if c.EndLocationID == c.StartLocationID {
			rc.EndLocation = rc.StartLocation
		} else {
			rc.EndLocation, _ = e.names.ResolveLocation(ctx, c.EndLocationID)
		}
	}

	if items.Known() {
		rc.Items = make([]models.ResolvedItem, 0, items.Len())
		for _, it := range items.Items() {
			rc.Items = append(rc.Items, e.resolveItem(ctx, it))
		}
	}

	rc.Title = Title(rc)
	return rc
}

func (e *Expander) resolveItem(ctx context.Context, it models.ContractItem) models.ResolvedItem {
	name, ok := e.names.Resolve(ctx, namecache.KindType, it.TypeID)
	if !ok {
		name = fmt.Sprintf("Type #%d", it.TypeID)
		e.log.Debug("type name unresolved", "type_id", it.TypeID)
	}

	res := classify.Item(it, name)
	return models.ResolvedItem{
		TypeID:         it.TypeID,
		TypeName:       name,
		NameResolved:   ok,
		Quantity:       it.Quantity,
		IsIncluded:     it.IsIncluded,
		Classification: res.Class,
		LowConfidence:  res.LowConfidence,
		ME:             res.ME,
		TE:             res.TE,
		Runs:           res.Runs,
	}
}

// Title synthesizes a contract title from its core fields and classified items:
//
//	single BPO/BPC:        "BPO Raven Blueprint", "BPC Raven Blueprint (ME 10, TE 20, 5 runs)"
//	single undetermined:   "Raven Blueprint"
//	single other item:     "Tritanium x500"
//	several items:         "Multi-item contract (3 items)"
//	no or unknown items:   "Contract #123"
func Title(rc models.ResolvedContract) string {
	if !rc.ItemsKnown || len(rc.Items) == 0 {
		return fmt.Sprintf("Contract #%d", rc.ContractID)
	}
	if len(rc.Items) > 1 {
		return fmt.Sprintf("Multi-item contract (%d items)", len(rc.Items))
	}

	it := rc.Items[0]
	switch it.Classification {
	case models.ClassBPO, models.ClassBPC:
		title := it.Classification.Label() + " " + it.TypeName
		if stats := blueprintStats(it); it.Classification == models.ClassBPC && stats != "" {
			title += " (" + stats + ")"
		}
		return title
	case models.ClassUndetermined:
		return it.TypeName
	}
	return fmt.Sprintf("%s x%d", it.TypeName, it.Quantity)
}

func blueprintStats(it models.ResolvedItem) string {
	var parts []string
	if it.ME != nil {
		parts = append(parts, fmt.Sprintf("ME %d", *it.ME))
	}
	if it.TE != nil {
		parts = append(parts, fmt.Sprintf("TE %d", *it.TE))
	}
	if it.Runs != nil {
		unit := "runs"
		if *it.Runs == 1 {
			unit = "run"
		}
		parts = append(parts, fmt.Sprintf("%d %s", *it.Runs, unit))
	}
	return strings.Join(parts, ", ")
}

// Review lists what in rc needs a human look: unresolved names, undetermined
// or low-confidence blueprint classifications, and unknown items.
func Review(rc models.ResolvedContract) []models.ReviewItem {
	var out []models.ReviewItem
	if !rc.ItemsKnown {
		if rc.Type != models.ContractTypeCourier {
			out = append(out, models.ReviewItem{ContractID: rc.ContractID, Reason: models.ReviewItemsUnknown})
		}
		return out
	}
	for _, it := range rc.Items {
		review := func(reason string) {
			out = append(out, models.ReviewItem{
				ContractID: rc.ContractID,
				TypeID:     it.TypeID,
				TypeName:   it.TypeName,
				Reason:     reason,
			})
		}
		if !it.NameResolved {
			review(models.ReviewUnresolvedName)
		}
		switch {
		case it.Classification == models.ClassUndetermined:
			review(models.ReviewUndetermined)
		case it.LowConfidence:
			review(models.ReviewLowConfidence)
		}
	}
	return out
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
