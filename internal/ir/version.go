package ir

// Version constants for the document schema and engine.
const (
	// SchemaVersion is the requirement document schema version.
	SchemaVersion = "1"

	// EngineVersion is the galed engine version.
	EngineVersion = "0.1.0"
)
