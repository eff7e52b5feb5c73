// Package launcher drives scan launches to a final result.
//
// A Launcher takes one scan id through repeated attempts against a
// ScanClient:
//
//	Pending -> Attempting -> Launched
//	               |  ^   -> FailedFatal        (fatal outcome, no retry)
//	               v  |   -> FailedAfterRetries (retry budget exhausted)
//	             backoff
//
// A Dispatcher runs Launchers for a list of scan ids, at most limit of them
// at once, and assembles a model.LaunchReport in the input order.
//
// Invariants:
//   - each attempt makes exactly one ScanClient.Launch call
//   - a launcher keeps its concurrency slot while it waits for a retry
//   - a failed scan never stops or delays the other ones
//   - duplicated ids are launched and reported independently
//   - a canceled dispatch returns an error, never a partial report
package launcher
