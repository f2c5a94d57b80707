// Package classify decides whether a contract item is a blueprint original or copy.
package classify

import (
	"strings"

	"github.com/raphaelgruber/esisync/internal/models"
)

// Result is the outcome of classifying one item.
type Result struct {
	Class models.Classification
	// LowConfidence is set when BPO was assumed because the copy flag was missing or false.
	LowConfidence bool
	ME            *int
	TE            *int
	Runs          *int
}

// Item classifies a contract item given its resolved type name.
//
// Rules, first match wins:
//  1. name without "Blueprint": not a blueprint
//  2. quantity -1: BPO, whatever the copy flag says
//  3. quantity > 0 and copy flag true: BPC with efficiency and runs
//  4. quantity > 0 otherwise: BPO, low confidence
//  5. anything else: undetermined
func Item(item models.ContractItem, typeName string) Result {
	if !strings.Contains(typeName, "Blueprint") {
		return Result{Class: models.ClassNotBlueprint}
	}

	switch {
	case item.Quantity == -1:
		return Result{Class: models.ClassBPO}

	case item.Quantity > 0 && item.IsBlueprintCopy != nil && *item.IsBlueprintCopy:
		return Result{
			Class: models.ClassBPC,
			ME:    copyInt(item.MaterialEfficiency),
			TE:    copyInt(item.TimeEfficiency),
			Runs:  copyInt(item.Runs),
		}

	case item.Quantity > 0:
		return Result{Class: models.ClassBPO, LowConfidence: true}
	}

	return Result{Class: models.ClassUndetermined}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
