// Package artifact stores run outputs on disk and manages their lifecycle.
//
// A Manager keeps each run's artifacts under <base>/runs/<runID>/artifacts,
// sharing the run directory with the journal. Large text artifacts are
// gzip-compressed transparently. FileName maps the artifact kinds of the
// default plan (playbook, tests, docs, review, CI/CD definition) to their
// canonical filenames.
//
// A LifecycleManager applies retention to finished runs: old runs are packed
// into monthly tar.gz archives and eventually deleted, while failed runs and
// a minimum count of recent runs are kept.
//
// Example usage:
//
//	mgr := artifact.NewManager(artifact.Config{BaseDir: ".autoflow"})
//	err := mgr.Save(runID, artifact.FilePlaybook, playbook)
//	data, err := mgr.Load(runID, artifact.FilePlaybook)
package artifact
