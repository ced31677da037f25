package websocket

// Outbound event types.
const (
	MessageReceived = "message.received"
	MessageRead     = "message.read"
	NewMessage      = "new-message"

	TypingEvent = "typing"

	MemberJoined = "member.joined"
	MemberLeft   = "member.left"
	RoomJoined   = "room.joined"

	HistoryBatch  = "history"
	HistoryReplay = "history.replay"

	ErrorEvent  = "error"
	JoinFailed  = "error.join"
	RateLimited = "error.rate_limited"

	ConnectionClosed = "connection.closed"
)

// Inbound frame actions.
const (
	ActionJoin     = "join"
	ActionLeave    = "leave"
	ActionSend     = "send"
	ActionMarkRead = "mark-read"
	ActionTyping   = "typing"
)
