// Package config centralizes the dispatcher's tunable timing constants and
// environment-derived settings, following the teacher's SchedulerConfig /
// DefaultSchedulerConfig split between a plain struct and an env-overridden
// constructor.
package config

import (
	"fmt"
	"os"
	"time"
)

// DispatchConfig holds every duration that governs the submit/fetch/result
// state machine. Defaults mirror spec.md's fixed timing windows; only
// PollInterval and a handful of operational knobs are meant to be tuned per
// deployment.
type DispatchConfig struct {
	// Phase1Wait is how long chat_completions blocks hoping a worker claims
	// and fulfills the task before falling back to Phase 2.
	Phase1Wait time.Duration

	// Phase2Window is the additional window, after Phase1Wait, during which
	// a late result still satisfies the original caller.
	Phase2Window time.Duration

	// PostRetryWait is how long a re-queued (retried) task is given before
	// being abandoned for good.
	PostRetryWait time.Duration

	// TempBanDuration is applied to a worker whose claimed task times out
	// after it has already been retried once (TryCount > 1).
	TempBanDuration time.Duration

	// MaxTryCount bounds how many times a task may be claimed before it is
	// failed outright.
	MaxTryCount int

	// ClaimTimeout is how long a worker may hold a claim before the
	// requester's phase-2 monitor releases it for retry.
	ClaimTimeout time.Duration

	// FetchSkipFirstClaim marks an unclaimed (TryCount==0) task too old to
	// hand out on fetch_task: its remaining budget before the requester's
	// phase-1 timeout can't accommodate a fresh claim-and-execute cycle.
	FetchSkipFirstClaim time.Duration

	// FetchSkipRetryClaim is the equivalent threshold for a once-retried
	// (TryCount==1) task, measured against the combined phase-1+phase-2
	// budget rather than phase-1 alone.
	FetchSkipRetryClaim time.Duration

	// PollInterval is the janitor loop's sweep frequency for expiring
	// claims and clearing elapsed temp-bans. Must stay under one second to
	// meet spec.md's responsiveness requirement.
	PollInterval time.Duration

	// FetchGapFIFO / FetchGapTwoLevel classify the wall-clock gap since a
	// worker's previous fetch_task call into an adaptive queue mode: below
	// FetchGapFIFO selects PureFIFO, below FetchGapTwoLevel selects
	// TwoLevel, otherwise StrictPriority.
	FetchGapFIFO     time.Duration
	FetchGapTwoLevel time.Duration

	// DailyUsageResetAt is the hour-of-day (0-23, server local time) at
	// which every account's daily usage counter resets to zero.
	DailyUsageResetAt int

	ListenAddr    string
	AdminToken    string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// DefaultDispatchConfig returns the spec's fixed timing windows, with
// operational fields (listen address, credentials, backends) left to be
// filled in by LoadFromEnv.
func DefaultDispatchConfig() DispatchConfig {
	return DispatchConfig{
		Phase1Wait:          60 * time.Second,
		Phase2Window:        120 * time.Second,
		PostRetryWait:       60 * time.Second,
		TempBanDuration:     180 * time.Second,
		MaxTryCount:         2,
		ClaimTimeout:        60 * time.Second,
		FetchSkipFirstClaim: 58 * time.Second,
		FetchSkipRetryClaim: 118 * time.Second,
		PollInterval:        500 * time.Millisecond,
		FetchGapFIFO:        1 * time.Second,
		FetchGapTwoLevel:    5 * time.Second,
		DailyUsageResetAt:   0,
		ListenAddr:          ":8080",
		RedisDB:             0,
	}
}

// LoadFromEnv starts from DefaultDispatchConfig and overrides operational
// fields from the environment, the way the teacher's main() reads
// REDIS_ADDR / SCHEDULER_CONCURRENCY / CIRCUIT_BREAKER_THRESHOLD.
func LoadFromEnv() DispatchConfig {
	cfg := DefaultDispatchConfig()

	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		var db int
		if _, err := fmt.Sscanf(v, "%d", &db); err == nil {
			cfg.RedisDB = db
		}
	}
	if v := os.Getenv("POLL_INTERVAL_MS"); v != "" {
		var ms int
		if _, err := fmt.Sscanf(v, "%d", &ms); err == nil && ms > 0 {
			cfg.PollInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("DAILY_USAGE_RESET_HOUR"); v != "" {
		var hour int
		if _, err := fmt.Sscanf(v, "%d", &hour); err == nil && hour >= 0 && hour < 24 {
			cfg.DailyUsageResetAt = hour
		}
	}

	return cfg
}
