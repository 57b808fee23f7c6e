package domain

import "context"

// AgentStore persists agent descriptors, one row per endpoint path.
type AgentStore interface {
	ListAgents(ctx context.Context) ([]AgentDescriptor, error)
	SaveAgent(ctx context.Context, d AgentDescriptor) error
	DeleteAgent(ctx context.Context, endpointPath string) (bool, error)
}

// TranscriptEntry is one persisted session message keyed by (session id, seq).
type TranscriptEntry struct {
	SessionID string
	Seq       int64
	Message   Message
}

// TranscriptStore mirrors session history outside the process.
type TranscriptStore interface {
	AppendTranscript(ctx context.Context, entry TranscriptEntry) error
	// LoadTranscript returns at most limit of the newest entries in
	// ascending sequence order.
	LoadTranscript(ctx context.Context, sessionID string, limit int) ([]TranscriptEntry, error)
	DeleteTranscript(ctx context.Context, sessionID string) error
}
