package scheduler

// Package scheduler runs the recurring background jobs:
// - the daily scoring sync after market close
// - periodic cache expiry sweeps
//
// Jobs are implemented in jobs.go
