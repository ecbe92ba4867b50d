// Package battle tracks the client-side battle session: which phase it is
// in, whose turn it is, and what the local player is allowed to do right
// now. All mutation happens on the run loop; the server is the authority
// and client input never changes the phase directly.
package battle

import (
	"fmt"
	"slices"

	"github.com/dsalaz04/pkmn-battle-client/internal/protocol"
)

type Phase string

const (
	PhaseIntro         Phase = "intro"
	PhaseTeamSelection Phase = "team_selection"
	PhaseBattle        Phase = "battle"
	PhaseEnded         Phase = "ended"
)

type BattleType string

const (
	TypeWild    BattleType = "wild"
	TypeTrainer BattleType = "trainer"
	TypePvP     BattleType = "pvp"
)

type Role string

const (
	RoleSelf     Role = "self"
	RoleOpponent Role = "opponent"
)

type StatusCondition string

const (
	StatusNone StatusCondition = ""
	StatusKO   StatusCondition = "ko"
)

type Combatant struct {
	Role      Role            `json:"role"`
	PokemonID int             `json:"pokemonId"`
	Name      string          `json:"name"`
	Level     int             `json:"level"`
	CurrentHP int             `json:"currentHp"`
	MaxHP     int             `json:"maxHp"`
	Status    StatusCondition `json:"status"`
	IsWild    bool            `json:"isWild"`
}

// TeamRoster is the local side's ordered team. At most one entry is active;
// a fainted entry can only become active through the forced-switch flow.
type TeamRoster struct {
	Entries     []Combatant `json:"entries"`
	ActiveIndex int         `json:"activeIndex"`
	CanSwitch   bool        `json:"canSwitch"`
}

// AliveInactive returns the slot indices legal for a voluntary switch:
// alive and not currently battling.
func (r TeamRoster) AliveInactive() []int {
	var out []int
	for i, e := range r.Entries {
		if i == r.ActiveIndex {
			continue
		}
		if e.CurrentHP > 0 {
			out = append(out, i)
		}
	}
	return out
}

// Session is the single shared mutable object of the subsystem. Each
// coordinator writes only its own slice of it, always on the run loop.
type Session struct {
	ID               string
	Type             BattleType
	Phase            Phase
	TurnNumber       int
	CurrentTurnOwner Role
	Active           bool

	// PlayerRole is the server-side name for the local player, e.g.
	// "player1". Turn owners in server messages are translated through it.
	PlayerRole string

	Self     Combatant
	Opponent Combatant
	Roster   TeamRoster
}

func NewSession() *Session {
	return &Session{Phase: PhaseIntro}
}

// RoleFor translates a server-side player name into self/opponent.
func (s *Session) RoleFor(serverRole string) Role {
	if serverRole != "" && serverRole == s.PlayerRole {
		return RoleSelf
	}
	return RoleOpponent
}

// Combatant returns the live combatant slot for role.
func (s *Session) Combatant(role Role) *Combatant {
	if role == RoleSelf {
		return &s.Self
	}
	return &s.Opponent
}

var transitions = map[Phase][]Phase{
	PhaseIntro:         {PhaseTeamSelection, PhaseBattle},
	PhaseTeamSelection: {PhaseBattle},
	PhaseBattle:        {PhaseEnded},
	PhaseEnded:         {},
}

func (s *Session) transition(to Phase) error {
	if !slices.Contains(transitions[s.Phase], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, s.Phase, to)
	}
	s.Phase = to
	return nil
}

// ApplyRoomCreated seeds the session from battleRoomCreated.
func (s *Session) ApplyRoomCreated(ev protocol.BattleRoomCreated) error {
	if s.Phase != PhaseIntro || s.Active {
		return fmt.Errorf("%w: room created in phase %s", ErrInvalidStateTransition, s.Phase)
	}
	s.ID = ev.RoomID
	s.Type = parseBattleType(ev.BattleType)
	s.Active = true
	return nil
}

// ApplyJoined moves intro -> team_selection and records the local role.
func (s *Session) ApplyJoined(ev protocol.BattleJoined) error {
	if err := s.transition(PhaseTeamSelection); err != nil {
		return err
	}
	if s.ID == "" {
		s.ID = ev.RoomID
	}
	s.PlayerRole = ev.PlayerRole
	s.Active = true
	return nil
}

// ApplyBattleStart enters the battle phase and seeds both combatants. Wild
// encounters skip team selection, so intro -> battle is legal too.
func (s *Session) ApplyBattleStart(ev protocol.BattleStart) error {
	if err := s.transition(PhaseBattle); err != nil {
		return err
	}
	s.TurnNumber = ev.TurnNumber
	s.CurrentTurnOwner = s.RoleFor(ev.CurrentTurn)
	s.Self = combatantFrom(ev.Player1Pokemon, RoleSelf)
	s.Opponent = combatantFrom(ev.Player2Pokemon, RoleOpponent)
	if s.PlayerRole == "player2" {
		s.Self = combatantFrom(ev.Player2Pokemon, RoleSelf)
		s.Opponent = combatantFrom(ev.Player1Pokemon, RoleOpponent)
	}
	if s.Opponent.IsWild && s.Type == "" {
		s.Type = TypeWild
	}
	s.Active = true
	return nil
}

// ApplyBattleEnd moves battle -> ended. The session stays readable through
// the grace window; Reset wipes it afterwards.
func (s *Session) ApplyBattleEnd(protocol.BattleEnd) error {
	return s.transition(PhaseEnded)
}

// ApplySync re-seeds turn and combatant state from a battleStateSync
// resync. Phase is only ever moved forward by the regular transitions, so a
// sync inside battle never rewinds it.
func (s *Session) ApplySync(ev protocol.BattleStateSync) {
	if s.Phase != PhaseBattle {
		return
	}
	s.TurnNumber = ev.TurnNumber
	s.CurrentTurnOwner = s.RoleFor(ev.CurrentTurn)
	s.Self.CurrentHP = ev.SelfPokemon.CurrentHP
	s.Opponent.CurrentHP = ev.OppPokemon.CurrentHP
}

// Reset returns the session to its zero state. No partial or half-closed
// state is observable afterwards.
func (s *Session) Reset() {
	*s = Session{Phase: PhaseIntro}
}

func combatantFrom(p protocol.PokemonInfo, role Role) Combatant {
	return Combatant{
		Role:      role,
		PokemonID: p.PokemonID,
		Name:      p.Name,
		Level:     p.Level,
		CurrentHP: p.CurrentHP,
		MaxHP:     p.MaxHP,
		Status:    StatusCondition(p.Status),
		IsWild:    p.IsWild,
	}
}

func parseBattleType(s string) BattleType {
	switch s {
	case "wild":
		return TypeWild
	case "trainer":
		return TypeTrainer
	case "pvp":
		return TypePvP
	default:
		return ""
	}
}

// View is the read-only snapshot served on the debug surface.
type View struct {
	ID               string     `json:"id"`
	Type             BattleType `json:"battleType,omitempty"`
	Phase            Phase      `json:"phase"`
	TurnNumber       int        `json:"turnNumber"`
	CurrentTurnOwner Role       `json:"currentTurnOwner,omitempty"`
	Active           bool       `json:"active"`
	WaitingForAction bool       `json:"waitingForAction"`
	Self             Combatant  `json:"self"`
	Opponent         Combatant  `json:"opponent"`
	Roster           TeamRoster `json:"roster"`
}
