package eventbus

// Topics published by the connector runtime.
const (
	TopicTaskStarted  = "task.started"
	TopicTaskFinished = "task.finished"
	TopicTaskFailed   = "task.failed"
	TopicTaskSkipped  = "task.skipped"
	TopicTaskDropped  = "task.dropped"

	TopicScheduleArmed    = "schedule.armed"
	TopicScheduleFired    = "schedule.fired"
	TopicScheduleCanceled = "schedule.canceled"

	TopicScanCompleted = "scan.completed"

	TopicImportStarted   = "import.started"
	TopicImportProgress  = "import.progress"
	TopicImportWarning   = "import.warning"
	TopicImportError     = "import.error"
	TopicImportFinished  = "import.finished"
	TopicImportUnhandled = "import.unhandled"

	TopicConnectorActivated   = "connector.activated"
	TopicConnectorDeactivated = "connector.deactivated"

	TopicLogRecord = "log.record"

	TopicConfigReloaded = "config.reloaded"
)
