package job

import (
	"context"
	"errors"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/tabular/internal/store"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// NewIntegrityChecker creates the periodic reference sweep.
func NewIntegrityChecker(s store.Store, schedule string) *IntegrityChecker {
	return &IntegrityChecker{store: s, schedule: schedule}
}

// IntegrityChecker walks the reference graph and flags computed fields
// whose upstream source row no longer exists. The delete cascade does
// this inline; the sweep catches anything that slipped past a crashed
// transaction.
type IntegrityChecker struct {
	store    store.Store
	schedule string
}

func (c *IntegrityChecker) Schedule() string {
	return c.schedule
}

func (c *IntegrityChecker) Run() {
	ctx := context.Background()

	refs, err := c.store.ListReferences(ctx)
	if err != nil {
		logrus.Errorf("integrity check: listing references: %v", err)
		return
	}

	sources := mapset.NewSet[string]()
	for _, ref := range refs {
		sources.Add(ref.FromFieldID)
	}

	dangling := mapset.NewSet[string]()
	for _, id := range sources.ToSlice() {
		_, err := c.store.GetField(ctx, id)
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logrus.Errorf("integrity check: loading field %s: %v", id, err)
			return
		}
		dangling.Add(id)
	}
	if dangling.Cardinality() == 0 {
		return
	}

	broken := mapset.NewSet[string]()
	for _, ref := range refs {
		if dangling.Contains(ref.FromFieldID) {
			broken.Add(ref.ToFieldID)
		}
	}

	if err := c.store.MarkFieldsError(ctx, broken.ToSlice(), true); err != nil {
		logrus.Errorf("integrity check: flagging fields: %v", err)
		return
	}
	logrus.Warnf("integrity check: %d fields degraded by %d dangling references",
		broken.Cardinality(), dangling.Cardinality())
}
