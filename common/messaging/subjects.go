package messaging

// Subjects follow {service}.{resource}.{action}.
const (
	SubjectConversionRecorded = "tabula.conversions.recorded"
	SubjectHistoryCleared     = "tabula.history.cleared"

	// SubjectAll matches every tabula event.
	SubjectAll = "tabula.>"
)
