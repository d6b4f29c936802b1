package config

import (
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles for the scholarship pipeline.
// Supports gradual rollout by student address, so a risky behavior can be
// enabled for a slice of the population before it touches everyone's funds.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Override rules (for testing/debugging)
	studentOverrides map[string]map[string]bool // student address -> feature -> enabled
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100)
	// Students are assigned based on hash of their address
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	Student string // settlement-layer student address
	IsAdmin bool
}

// Predefined feature flag names.
const (
	// === Coordinator features ===
	FeatureScoreScaledRewards = "coordinator.score_scaled_rewards" // scale payouts by profile score
	FeatureAsyncIntake        = "coordinator.async_intake"         // queue submissions instead of inline processing

	// === Settlement features ===
	FeatureNonceRetry       = "settlement.nonce_retry"       // one refreshed-nonce resubmit
	FeaturePendingReconcile = "settlement.pending_reconcile" // background resolution of unknown outcomes

	// === Reporting features ===
	FeatureVaultAudit = "reporting.vault_audit" // periodic balance-vs-reports audit
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[string]map[string]bool),
	}

	ff.initializeDefaults()
	ff.loadFromEnvironment()

	return ff
}

// initializeDefaults sets up all features with default values.
func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureScoreScaledRewards] = &Feature{
		Name:           FeatureScoreScaledRewards,
		Description:    "Scale payouts by profile score instead of flat amount-per-guide",
		Enabled:        false, // Ledger-side behavior must flip together with this
		RolloutPercent: 0,
	}

	ff.features[FeatureAsyncIntake] = &Feature{
		Name:           FeatureAsyncIntake,
		Description:    "Accept submissions into the worker queue and respond 202",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureNonceRetry] = &Feature{
		Name:           FeatureNonceRetry,
		Description:    "Retry a rejected submission once with a refreshed nonce",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeaturePendingReconcile] = &Feature{
		Name:           FeaturePendingReconcile,
		Description:    "Resolve unknown-outcome transactions in the background",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureVaultAudit] = &Feature{
		Name:           FeatureVaultAudit,
		Description:    "Periodically compare vault balances against payment reports",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_COORDINATOR_ASYNC_INTAKE=false
// Example: FEATURE_COORDINATOR_SCORE_SCALED_REWARDS=25 (25% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		envKey := featureNameToEnvKey(name)
		if val := os.Getenv(envKey); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				feature.Enabled = b
				if b {
					feature.RolloutPercent = 100
				} else {
					feature.RolloutPercent = 0
				}
				continue
			}

			if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
				feature.Enabled = p > 0
				feature.RolloutPercent = p
			}
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "settlement.nonce_retry" -> "FEATURE_SETTLEMENT_NONCE_RETRY"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	// Check per-student overrides first
	if ctx != nil && ctx.Student != "" {
		if overrides, ok := ff.studentOverrides[ctx.Student]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}

	if ctx != nil && ctx.IsAdmin {
		return true
	}

	if !feature.Enabled {
		return false
	}

	// Check time-based activation
	now := time.Now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}

	// Check rollout percentage
	if feature.RolloutPercent < 100 && ctx != nil && ctx.Student != "" {
		return ff.isInRollout(ctx.Student, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout determines if a student is in the rollout percentage.
// Uses consistent hashing so students stay in their bucket.
func (ff *FeatureFlags) isInRollout(student string, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(student))
	hash := h.Sum32()

	bucket := int(hash % 100)
	return bucket < percent
}

// SetStudentOverride sets a feature override for a specific student.
// Useful for testing and debugging.
func (ff *FeatureFlags) SetStudentOverride(student string, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[student]; !ok {
		ff.studentOverrides[student] = make(map[string]bool)
	}
	ff.studentOverrides[student][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(student string) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, student)
}

// SetRolloutPercent updates the rollout percentage for a feature.
// Thread-safe for live updates.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}

	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0

	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
