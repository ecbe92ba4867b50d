package protocol

// MessageType names a client -> server message.
type MessageType string

const (
	MsgBattleAction       MessageType = "battleAction"
	MsgRequestMoves       MessageType = "requestMoves"
	MsgAttemptCapture     MessageType = "attemptCapture"
	MsgJoinRoom           MessageType = "joinRoom"
	MsgRequestBattleState MessageType = "requestBattleState"
)

// ActionType is the battleAction discriminator.
type ActionType string

const (
	ActionAttack ActionType = "attack"
	ActionItem   ActionType = "item"
	ActionRun    ActionType = "run"
	ActionSwitch ActionType = "switch"
)

// ClientMessage is implemented by every outbound message variant.
type ClientMessage interface {
	MessageType() MessageType
	isClientMessage()
}

type BattleAction struct {
	ActionType  ActionType `json:"actionType"`
	MoveID      string     `json:"moveId,omitempty"`
	ItemID      string     `json:"itemId,omitempty"`
	SwitchIndex int        `json:"switchIndex,omitempty"`
}

type RequestMoves struct{}

type AttemptCapture struct {
	BallType string `json:"ballType"`
}

type JoinRoom struct {
	RoomID string `json:"roomId"`
}

type RequestBattleState struct{}

func (BattleAction) MessageType() MessageType       { return MsgBattleAction }
func (RequestMoves) MessageType() MessageType       { return MsgRequestMoves }
func (AttemptCapture) MessageType() MessageType     { return MsgAttemptCapture }
func (JoinRoom) MessageType() MessageType           { return MsgJoinRoom }
func (RequestBattleState) MessageType() MessageType { return MsgRequestBattleState }

func (BattleAction) isClientMessage()       {}
func (RequestMoves) isClientMessage()       {}
func (AttemptCapture) isClientMessage()     {}
func (JoinRoom) isClientMessage()           {}
func (RequestBattleState) isClientMessage() {}
