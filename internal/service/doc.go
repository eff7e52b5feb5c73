package service

// Package service wires the configuration, the Nessus client, the launch
// dispatcher and the report uploaders together.
//
// Overview
// A Plan is the fully resolved input of one launch run: connection settings,
// scan ids, concurrency limit and retry configuration. Plan.Launch logs in,
// dispatches the launches and logs out again.
//
// The Supervisor owns an event loop which executes runs and uploads their
// reports. It works in two modes:
//   - manual (oneshot): a single run is executed, the first error is returned
//     and ErrScansFailed signals that some scans have not been launched
//   - timer: runs are triggered by a gocron scheduler (cron expression or a
//     fixed interval) until the context is canceled, errors are only logged
//
// Data flow:
//
//   Supervisor              Plan                  Dispatcher          Session
//       |                     |                       |                  |
//   start() --> Launch() ---->| Login() ------------------------------->|
//       |                     | Dispatch(ids) ------->| Launch(id) ----->|
//       |                     |                       |<-- Outcome ------|
//       |<------ LaunchReport |<----- LaunchReport ---|                  |
//   upload()                  | Logout() ------------------------------>|
//
// Invariants:
//   - at most one run is executed at a time, triggers arriving during a run
//     are coalesced into one
//   - a run never returns a partial report
//   - the environment (NESSUS_* variables and the .env file) overrides the
//     config file, command line flags override both
