// Package protocol defines the closed set of messages exchanged with the
// battle server. Every inbound and outbound message has a concrete struct;
// an event name outside this set is a decode error, never a silently
// ignored handler.
package protocol

// EventType names a server -> client message.
type EventType string

const (
	EvtBattleRoomCreated  EventType = "battleRoomCreated"
	EvtBattleJoined       EventType = "battleJoined"
	EvtBattleStart        EventType = "battleStart"
	EvtTurnChange         EventType = "turnChange"
	EvtBattleMessage      EventType = "battleMessage"
	EvtBattleEnd          EventType = "battleEnd"
	EvtBattleError        EventType = "battleError"
	EvtRequestMovesResult EventType = "requestMovesResult"
	EvtCaptureResult      EventType = "captureResult"
	EvtCaptureShake       EventType = "captureShake"
	EvtCaptureFinal       EventType = "captureFinal"
	EvtPokemonFainted     EventType = "pokemonFainted"
	EvtPhaseChanged       EventType = "phaseChanged"
	EvtSwitchRequired     EventType = "switchRequired"
	EvtPokemonSwitched    EventType = "pokemonSwitched"
	EvtSwitchError        EventType = "switchError"
	EvtActionQueued       EventType = "actionQueued"
	EvtBattleStateSync    EventType = "battleStateSync"
)

// ServerEvent is implemented by every inbound message variant.
type ServerEvent interface {
	EventType() EventType
	isServerEvent()
}

// PokemonInfo describes one combatant as the server reports it.
type PokemonInfo struct {
	PokemonID int    `json:"pokemonId"`
	Name      string `json:"name"`
	Level     int    `json:"level"`
	CurrentHP int    `json:"currentHp"`
	MaxHP     int    `json:"maxHp"`
	Status    string `json:"status,omitempty"`
	IsWild    bool   `json:"isWild,omitempty"`
}

// MoveInfo is one usable move returned by requestMoves.
type MoveInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Power    int    `json:"power"`
	Accuracy int    `json:"accuracy"`
	PP       int    `json:"pp"`
	MaxPP    int    `json:"maxPp"`
}

type BattleRoomCreated struct {
	RoomID     string `json:"roomId"`
	BattleType string `json:"battleType"`
}

type BattleJoined struct {
	RoomID     string `json:"roomId"`
	PlayerRole string `json:"playerRole"`
}

type BattleStart struct {
	Player1Pokemon PokemonInfo `json:"player1Pokemon"`
	Player2Pokemon PokemonInfo `json:"player2Pokemon"`
	CurrentTurn    string      `json:"currentTurn"`
	TurnNumber     int         `json:"turnNumber"`
}

type TurnChange struct {
	CurrentTurn string `json:"currentTurn"`
	TurnNumber  int    `json:"turnNumber"`
}

type BattleMessage struct {
	Message string `json:"message"`
}

type BattleEnd struct {
	Result  string         `json:"result"` // "victory" | "defeat" | "fled" | "captured"
	Rewards map[string]int `json:"rewards,omitempty"`
}

type BattleError struct {
	Message  string `json:"message"`
	Critical bool   `json:"critical"`
}

type RequestMovesResult struct {
	Success       bool       `json:"success"`
	Moves         []MoveInfo `json:"moves,omitempty"`
	PokemonName   string     `json:"pokemonName,omitempty"`
	ForceStruggle bool       `json:"forceStruggle,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// CaptureData is the authoritative capture outcome. The client only
// sequences the reveal; it never computes shakes itself.
type CaptureData struct {
	Captured    bool   `json:"captured"`
	ShakeCount  int    `json:"shakeCount"`
	Critical    bool   `json:"critical"`
	PokemonName string `json:"pokemonName"`
}

type CaptureResult struct {
	Success     bool         `json:"success"`
	CaptureData *CaptureData `json:"captureData,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type CaptureShake struct {
	ShakeNumber int `json:"shakeNumber"`
	TotalShakes int `json:"totalShakes"`
}

type CaptureFinal struct {
	Captured bool `json:"captured"`
}

type PokemonFainted struct {
	TargetRole  string `json:"targetRole"` // "self" | "opponent"
	PokemonName string `json:"pokemonName"`
	MaxHP       int    `json:"maxHp"`
	Level       int    `json:"level"`
}

type PhaseChanged struct {
	Phase string `json:"phase"`
}

type SwitchRequired struct {
	PlayerRole       string `json:"playerRole"`
	AvailableOptions []int  `json:"availableOptions"`
	TimeLimit        int    `json:"timeLimit"` // milliseconds, 0 means no limit
}

type PokemonSwitched struct {
	PlayerRole     string `json:"playerRole"`
	ToPokemonIndex int    `json:"toPokemonIndex"`
}

type SwitchError struct {
	Error string `json:"error"`
}

type ActionQueued struct {
	ActionType string `json:"actionType"`
}

// BattleStateSync answers a requestBattleState resync. It carries enough to
// re-seed turn and phase tracking after a suspected dropped message.
type BattleStateSync struct {
	Phase       string      `json:"phase"`
	CurrentTurn string      `json:"currentTurn"`
	TurnNumber  int         `json:"turnNumber"`
	SelfPokemon PokemonInfo `json:"selfPokemon"`
	OppPokemon  PokemonInfo `json:"oppPokemon"`
}

func (BattleRoomCreated) EventType() EventType  { return EvtBattleRoomCreated }
func (BattleJoined) EventType() EventType       { return EvtBattleJoined }
func (BattleStart) EventType() EventType        { return EvtBattleStart }
func (TurnChange) EventType() EventType         { return EvtTurnChange }
func (BattleMessage) EventType() EventType      { return EvtBattleMessage }
func (BattleEnd) EventType() EventType          { return EvtBattleEnd }
func (BattleError) EventType() EventType        { return EvtBattleError }
func (RequestMovesResult) EventType() EventType { return EvtRequestMovesResult }
func (CaptureResult) EventType() EventType      { return EvtCaptureResult }
func (CaptureShake) EventType() EventType       { return EvtCaptureShake }
func (CaptureFinal) EventType() EventType       { return EvtCaptureFinal }
func (PokemonFainted) EventType() EventType     { return EvtPokemonFainted }
func (PhaseChanged) EventType() EventType       { return EvtPhaseChanged }
func (SwitchRequired) EventType() EventType     { return EvtSwitchRequired }
func (PokemonSwitched) EventType() EventType    { return EvtPokemonSwitched }
func (SwitchError) EventType() EventType        { return EvtSwitchError }
func (ActionQueued) EventType() EventType       { return EvtActionQueued }
func (BattleStateSync) EventType() EventType    { return EvtBattleStateSync }

func (BattleRoomCreated) isServerEvent()  {}
func (BattleJoined) isServerEvent()       {}
func (BattleStart) isServerEvent()        {}
func (TurnChange) isServerEvent()         {}
func (BattleMessage) isServerEvent()      {}
func (BattleEnd) isServerEvent()          {}
func (BattleError) isServerEvent()        {}
func (RequestMovesResult) isServerEvent() {}
func (CaptureResult) isServerEvent()      {}
func (CaptureShake) isServerEvent()       {}
func (CaptureFinal) isServerEvent()       {}
func (PokemonFainted) isServerEvent()     {}
func (PhaseChanged) isServerEvent()       {}
func (SwitchRequired) isServerEvent()     {}
func (PokemonSwitched) isServerEvent()    {}
func (SwitchError) isServerEvent()        {}
func (ActionQueued) isServerEvent()       {}
func (BattleStateSync) isServerEvent()    {}
