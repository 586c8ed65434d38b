// Package userprofile models sticky-bucketing records and the storage
// contract used to persist them.
package userprofile

import (
	"context"
	"errors"
	"maps"
)

// ErrInvalidProfile is returned by stores asked to save a map that fails IsValidMap.
var ErrInvalidProfile = errors.New("invalid user profile")

// Keys of the generic map representation shared with storage backends.
const (
	UserIDKey              = "user_id"
	ExperimentBucketMapKey = "experiment_bucket_map"
	VariationIDKey         = "variation_id"
)

// Service persists profiles in their generic map form.
//
// Lookup returns (nil, nil) when no profile exists. Both methods may block on I/O.
type Service interface {
	Lookup(ctx context.Context, userID string) (map[string]any, error)
	Save(ctx context.Context, profile map[string]any) error
}

// Decision is a stored variation assignment.
type Decision struct {
	VariationID string
}

// UserProfile holds the stored decisions of a user, keyed by experiment id.
type UserProfile struct {
	UserID              string
	ExperimentBucketMap map[string]Decision
}

// New creates an empty profile.
func New(userID string) *UserProfile {
	return &UserProfile{UserID: userID, ExperimentBucketMap: make(map[string]Decision)}
}

// Decision returns the stored decision for the experiment.
func (p *UserProfile) Decision(experimentID string) (Decision, bool) {
	d, ok := p.ExperimentBucketMap[experimentID]
	return d, ok
}

// SetDecision records or replaces the decision for the experiment.
func (p *UserProfile) SetDecision(experimentID, variationID string) {
	if p.ExperimentBucketMap == nil {
		p.ExperimentBucketMap = make(map[string]Decision)
	}
	p.ExperimentBucketMap[experimentID] = Decision{VariationID: variationID}
}

// ToMap converts the profile to its storage representation.
func (p *UserProfile) ToMap() map[string]any {
	buckets := make(map[string]any, len(p.ExperimentBucketMap))
	for expID, d := range p.ExperimentBucketMap {
		buckets[expID] = map[string]any{VariationIDKey: d.VariationID}
	}
	return map[string]any{
		UserIDKey:              p.UserID,
		ExperimentBucketMapKey: buckets,
	}
}

// FromMap converts a storage map into a profile. It reports false when the
// map is not a valid profile; see IsValidMap.
func FromMap(m map[string]any) (*UserProfile, bool) {
	if !IsValidMap(m) {
		return nil, false
	}

	userID := m[UserIDKey].(string)
	raw, _ := bucketEntries(m[ExperimentBucketMapKey])

	p := New(userID)
	for expID, variationID := range raw {
		p.SetDecision(expID, variationID)
	}
	return p, true
}

// IsValidMap reports whether m has a string user id and an experiment bucket
// map whose every entry is a map carrying a string variation id. It never panics.
func IsValidMap(m map[string]any) bool {
	if m == nil {
		return false
	}
	if _, ok := m[UserIDKey].(string); !ok {
		return false
	}
	raw, present := m[ExperimentBucketMapKey]
	if !present {
		return false
	}
	_, ok := bucketEntries(raw)
	return ok
}

// bucketEntries flattens the accepted encodings of the experiment bucket map
// into experiment id -> variation id. Maps decoded from JSON arrive as
// map[string]any while maps built in code often use concrete types.
func bucketEntries(raw any) (map[string]string, bool) {
	out := make(map[string]string)

	switch buckets := raw.(type) {
	case map[string]map[string]string:
		for expID, inner := range buckets {
			vid, ok := inner[VariationIDKey]
			if !ok {
				return nil, false
			}
			out[expID] = vid
		}
	case map[string]map[string]any:
		for expID, inner := range buckets {
			vid, ok := inner[VariationIDKey].(string)
			if !ok {
				return nil, false
			}
			out[expID] = vid
		}
	case map[string]any:
		for expID, entry := range buckets {
			vid, ok := variationID(entry)
			if !ok {
				return nil, false
			}
			out[expID] = vid
		}
	default:
		return nil, false
	}

	return out, true
}

func variationID(entry any) (string, bool) {
	switch inner := entry.(type) {
	case map[string]string:
		vid, ok := inner[VariationIDKey]
		return vid, ok
	case map[string]any:
		vid, ok := inner[VariationIDKey].(string)
		return vid, ok
	default:
		return "", false
	}
}

// Clone returns a deep copy of the profile.
func (p *UserProfile) Clone() *UserProfile {
	return &UserProfile{UserID: p.UserID, ExperimentBucketMap: maps.Clone(p.ExperimentBucketMap)}
}
