package config

type WorkerKeyStruct struct {
	PersistSnapshotsQueue  string
	PersistViolationsQueue string
	PersistResultsQueue    string
}

var WorkerKey = &WorkerKeyStruct{
	PersistSnapshotsQueue:  "persist_snapshots_queue",
	PersistViolationsQueue: "persist_violations_queue",
	PersistResultsQueue:    "persist_results_queue",
}
