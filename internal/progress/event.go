package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage names a crawl milestone.
type Stage string

// Supported stages.
const (
	StageRunStart        Stage = "RUN_START"
	StageRunDone         Stage = "RUN_DONE"
	StageCategoryStart   Stage = "CATEGORY_START"
	StagePageDone        Stage = "PAGE_DONE"
	StagePageDropped     Stage = "PAGE_DROPPED"
	StageProductDone     Stage = "PRODUCT_DONE"
	StageProductFailed   Stage = "PRODUCT_FAILED"
	StageBootstrapDone   Stage = "BOOTSTRAP_DONE"
	StageBootstrapFailed Stage = "BOOTSTRAP_FAILED"
)

// Event is one milestone of a run.
type Event struct {
	RunID uuid.UUID
	// TS is the UTC time the emitter observed the milestone.
	TS    time.Time
	Stage Stage
	// Category is the seed URL being walked, when there is one.
	Category string
	// URL is the page or product the event is about.
	URL string
	// Origin is set for bootstrap events.
	Origin string
	// Count is stage specific: products found on a page, records held after
	// a product, or the final record count of a run.
	Count int
	// State is the terminal run state on RUN_DONE.
	State string
	Dur   time.Duration
	// Note carries low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart:
	case StageRunDone:
		if e.State == "" {
			return errors.New("run done requires state")
		}
	case StageCategoryStart:
		if e.Category == "" {
			return errors.New("category start requires category")
		}
	case StagePageDone, StagePageDropped, StageProductDone, StageProductFailed:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageBootstrapDone, StageBootstrapFailed:
		if e.Origin == "" {
			return fmt.Errorf("%s requires origin", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	if e.Count < 0 {
		return errors.New("count must be >= 0")
	}
	return nil
}
