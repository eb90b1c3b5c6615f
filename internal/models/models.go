package models

// All lists every model migrated by trainer.
var All = []interface{}{
	&TrainingJob{},
	&LogEntry{},
	&OutboxMessage{},
}
