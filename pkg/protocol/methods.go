package protocol

// Gateway RPC method names used by the client core. Domain methods outside
// this list pass through the correlator opaquely.
const (
	MethodSessionsList    = "sessions.list"
	MethodSessionsResolve = "sessions.resolve"
	MethodSessionsPatch   = "sessions.patch"
	MethodSessionsDelete  = "sessions.delete"
	MethodSessionsFork    = "sessions.fork"

	MethodChatSend    = "chat.send"
	MethodChatAbort   = "chat.abort"
	MethodChatHistory = "chat.history"
	MethodChatContext = "chat.context"

	MethodOAuthStart  = "providers.oauth.start"
	MethodOAuthStatus = "providers.oauth.status"
)

// Push event topics dispatched by the event bus.
const (
	TopicChat    = "chat"
	TopicSession = "session"
	TopicChannel = "channel"
	TopicMetrics = "metrics"
	TopicTick    = "tick"
)

// Error codes carried on ErrorShape. Transport codes are synthesized locally;
// the rest are passed through from the gateway verbatim.
const (
	ErrCodeNotConnected   = "NOT_CONNECTED"
	ErrCodeTransportLost  = "TRANSPORT_LOST"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeAgentTimeout   = "AGENT_TIMEOUT"
)
