// Package journal records what happened during orchestration runs.
//
// Each run gets a directory under <base>/runs/<runID> holding
// journal.json (the full entry list) and metadata.json (run-level
// metadata kept separate so listing stays cheap).
//
// Core types:
//   - FileStore: File-based journal storage with an in-memory active set
//   - Journal: The full record of one run
//   - Entry: One recorded event
//   - Recorder: notify.Notifier adapter, so the engine's event stream
//     is journaled without extra wiring
//
// Example usage:
//
//	store, err := journal.NewFileStore(journal.StoreConfig{
//	    BaseDir: ".autoflow",
//	})
//	runID, err := journal.NewRunID("deploy-nginx")
//	err = store.StartRun(runID, journal.RunMetadata{SessionID: "s1"})
//	err = store.Record(runID, journal.Entry{
//	    Type:    "stage_completed",
//	    Stage:   "playbook",
//	    Message: "accepted at iteration 2",
//	})
//	err = store.EndRun(runID, journal.StatusComplete)
package journal
