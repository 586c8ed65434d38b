// Package bucketing maps bucketing keys onto traffic allocations using
// MurmurHash3 (x86, 32-bit). Results are part of the cross-SDK contract:
// the same key and experiment id must land in the same bucket everywhere.
package bucketing

import (
	"log/slog"
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/rafaeljc/bifrost/internal/projectconfig"
	"github.com/rafaeljc/bifrost/internal/validation"
)

const (
	// MaxTrafficValue is the exclusive upper bound of the bucketing range.
	MaxTrafficValue = 10000

	// HashSeed is fixed by the cross-SDK contract.
	HashSeed uint32 = 1
)

var maxHashValue = math.Pow(2, 32)

// BucketValue hashes key and scales the result onto [0, MaxTrafficValue).
func BucketValue(key string) int {
	hash := murmur3.Sum32WithSeed([]byte(key), HashSeed)
	ratio := float64(hash) / maxHashValue
	return int(math.Floor(ratio * MaxTrafficValue))
}

// Allocate returns the entity of the first allocation whose end of range is
// strictly greater than the bucket value of key. It reports false when the
// value falls past the last range or lands on a range with no entity.
func Allocate(key string, allocations []projectconfig.TrafficAllocation) (string, bool) {
	value := BucketValue(key)
	return allocateValue(value, allocations)
}

func allocateValue(value int, allocations []projectconfig.TrafficAllocation) (string, bool) {
	for _, a := range allocations {
		if value < a.EndOfRange {
			if a.EntityID == "" {
				return "", false
			}
			return a.EntityID, true
		}
	}
	return "", false
}

// Bucketer assigns variations, honoring mutual exclusion groups.
// It holds no mutable state and is safe for concurrent use.
type Bucketer struct {
	config *projectconfig.ProjectConfig
	logger *slog.Logger
}

// New creates a Bucketer. It panics if config is nil.
func New(config *projectconfig.ProjectConfig, logger *slog.Logger) *Bucketer {
	validation.AssertNotNil(config, "project config")
	if logger == nil {
		logger = slog.Default()
	}
	return &Bucketer{config: config, logger: logger}
}

// Bucket returns the variation of experiment that bucketingID falls into, or nil.
//
// For experiments in a random-policy group the key is first bucketed against the
// group allocation (seeded with the group id). The user continues only if that
// lands on this experiment. Variation bucketing is always seeded with the
// experiment id.
func (b *Bucketer) Bucket(experiment *projectconfig.Experiment, bucketingID string) *projectconfig.Variation {
	log := b.logger.With(
		slog.String("experiment_key", experiment.Key),
		slog.String("bucketing_id", bucketingID),
	)

	if experiment.GroupID != "" {
		group, err := b.config.GroupByID(experiment.GroupID)
		if err != nil {
			log.Error("experiment references unknown group", slog.String("group_id", experiment.GroupID))
			return nil
		}

		if group.Policy == projectconfig.GroupPolicyRandom {
			groupValue := BucketValue(bucketingID + group.ID)
			log.Debug("assigned group bucket", slog.String("group_id", group.ID), slog.Int("bucket", groupValue))

			landedID, ok := allocateValue(groupValue, group.TrafficAllocation)
			if !ok {
				log.Info("user is not in any experiment of the group", slog.String("group_id", group.ID))
				return nil
			}
			if landedID != experiment.ID {
				log.Info("user is in a different experiment of the group",
					slog.String("group_id", group.ID),
					slog.String("landed_experiment_id", landedID),
				)
				return nil
			}
			log.Info("user is in the experiment of the group", slog.String("group_id", group.ID))
		}
	}

	value := BucketValue(bucketingID + experiment.ID)
	log.Debug("assigned variation bucket", slog.Int("bucket", value))

	variationID, ok := allocateValue(value, experiment.TrafficAllocation)
	if !ok {
		log.Info("user is not in any variation")
		return nil
	}

	variation := experiment.VariationByID(variationID)
	if variation == nil {
		log.Warn("traffic allocation references unknown variation", slog.String("variation_id", variationID))
		return nil
	}

	log.Info("user is in variation", slog.String("variation_key", variation.Key))
	return variation
}
