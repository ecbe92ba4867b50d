package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownEventType = errors.New("unknown event type")

// Envelope is the wire framing shared by both directions: a type tag, an
// optional correlation id, and the variant payload.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeServerEvent parses one inbound frame. The returned RequestID is the
// correlation id echoed by the server, empty for pushes.
func DecodeServerEvent(raw []byte) (ServerEvent, string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, "", fmt.Errorf("decode envelope: %w", err)
	}

	ev, err := eventForType(EventType(env.Type))
	if err != nil {
		return nil, env.RequestID, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, env.RequestID, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return deref(ev), env.RequestID, nil
}

// eventForType returns a pointer to a zero value of the matching variant so
// the payload can be unmarshalled into it.
func eventForType(t EventType) (ServerEvent, error) {
	switch t {
	case EvtBattleRoomCreated:
		return &BattleRoomCreated{}, nil
	case EvtBattleJoined:
		return &BattleJoined{}, nil
	case EvtBattleStart:
		return &BattleStart{}, nil
	case EvtTurnChange:
		return &TurnChange{}, nil
	case EvtBattleMessage:
		return &BattleMessage{}, nil
	case EvtBattleEnd:
		return &BattleEnd{}, nil
	case EvtBattleError:
		return &BattleError{}, nil
	case EvtRequestMovesResult:
		return &RequestMovesResult{}, nil
	case EvtCaptureResult:
		return &CaptureResult{}, nil
	case EvtCaptureShake:
		return &CaptureShake{}, nil
	case EvtCaptureFinal:
		return &CaptureFinal{}, nil
	case EvtPokemonFainted:
		return &PokemonFainted{}, nil
	case EvtPhaseChanged:
		return &PhaseChanged{}, nil
	case EvtSwitchRequired:
		return &SwitchRequired{}, nil
	case EvtPokemonSwitched:
		return &PokemonSwitched{}, nil
	case EvtSwitchError:
		return &SwitchError{}, nil
	case EvtActionQueued:
		return &ActionQueued{}, nil
	case EvtBattleStateSync:
		return &BattleStateSync{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
	}
}

// deref flattens the decode pointer back to the value type callers switch on.
func deref(ev ServerEvent) ServerEvent {
	switch v := ev.(type) {
	case *BattleRoomCreated:
		return *v
	case *BattleJoined:
		return *v
	case *BattleStart:
		return *v
	case *TurnChange:
		return *v
	case *BattleMessage:
		return *v
	case *BattleEnd:
		return *v
	case *BattleError:
		return *v
	case *RequestMovesResult:
		return *v
	case *CaptureResult:
		return *v
	case *CaptureShake:
		return *v
	case *CaptureFinal:
		return *v
	case *PokemonFainted:
		return *v
	case *PhaseChanged:
		return *v
	case *SwitchRequired:
		return *v
	case *PokemonSwitched:
		return *v
	case *SwitchError:
		return *v
	case *ActionQueued:
		return *v
	case *BattleStateSync:
		return *v
	default:
		return ev
	}
}

// EncodeClientMessage frames one outbound message with its correlation id.
func EncodeClientMessage(msg ClientMessage, requestID string) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.MessageType(), err)
	}
	env := Envelope{
		Type:      string(msg.MessageType()),
		RequestID: requestID,
		Data:      data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return raw, nil
}
