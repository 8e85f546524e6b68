package teax

import "fmt"

// SnapshotKind discriminates the two snapshot variants.
type SnapshotKind uint8

const (
	// KindInitial marks the bootstrap snapshot of an activation.
	KindInitial SnapshotKind = iota + 1
	// KindRegular marks the result of applying one message.
	KindRegular
)

func (k SnapshotKind) String() string {
	switch k {
	case KindInitial:
		return "initial"
	case KindRegular:
		return "regular"
	default:
		return fmt.Sprintf("SnapshotKind(%d)", uint8(k))
	}
}

// Snapshot is one immutable point in the state timeline.
//
// For KindInitial only State and Commands are meaningful. For KindRegular,
// PreviousState is the state the message was applied to and Message is the
// message itself. Consumers must switch on Kind.
type Snapshot[M, S any, C comparable] struct {
	Kind          SnapshotKind
	State         S
	Commands      Commands[C]
	PreviousState S
	Message       M
}

// NewInitial builds the bootstrap snapshot.
func NewInitial[M, S any, C comparable](state S, cmds Commands[C]) Snapshot[M, S, C] {
	return Snapshot[M, S, C]{Kind: KindInitial, State: state, Commands: cmds}
}

// NewRegular builds the snapshot produced by applying msg to previous.
func NewRegular[M, S any, C comparable](state S, cmds Commands[C], previous S, msg M) Snapshot[M, S, C] {
	return Snapshot[M, S, C]{
		Kind:          KindRegular,
		State:         state,
		Commands:      cmds,
		PreviousState: previous,
		Message:       msg,
	}
}

// IsInitial reports whether s is the bootstrap snapshot.
func (s Snapshot[M, S, C]) IsInitial() bool {
	return s.Kind == KindInitial
}

// clone copies the command set so observers cannot alias the published one.
func (s Snapshot[M, S, C]) clone() Snapshot[M, S, C] {
	s.Commands = s.Commands.Clone()
	return s
}

// Commands is an unordered set of commands. Resolution order of its members
// is unspecified.
type Commands[C comparable] []C

// Command builds a command set, dropping duplicates.
func Command[C comparable](cmds ...C) Commands[C] {
	if len(cmds) == 0 {
		return nil
	}
	out := make(Commands[C], 0, len(cmds))
	for _, c := range cmds {
		if !out.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// NoCommand is the empty command set.
func NoCommand[C comparable]() Commands[C] {
	return nil
}

// Has reports whether cmd is a member of the set.
func (c Commands[C]) Has(cmd C) bool {
	for _, x := range c {
		if x == cmd {
			return true
		}
	}
	return false
}

// Len returns the number of commands.
func (c Commands[C]) Len() int {
	return len(c)
}

// Equal reports set equality, ignoring order.
func (c Commands[C]) Equal(other Commands[C]) bool {
	if len(c) != len(other) {
		return false
	}
	for _, x := range c {
		if !other.Has(x) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (c Commands[C]) Clone() Commands[C] {
	if c == nil {
		return nil
	}
	return append(Commands[C](nil), c...)
}

// Update is the result of a transition: the next state plus the commands to resolve.
type Update[S any, C comparable] struct {
	State    S
	Commands Commands[C]
}

// Next builds an Update from a state and its commands.
//
//	return teax.Next(state, SaveCmd{}, LogCmd{}), nil
func Next[S any, C comparable](state S, cmds ...C) Update[S, C] {
	return Update[S, C]{State: state, Commands: Command(cmds...)}
}

// Initial is what an initializer produces: the first state and its commands.
type Initial[S any, C comparable] struct {
	State    S
	Commands Commands[C]
}

// Start builds an Initial from a state and its commands.
func Start[S any, C comparable](state S, cmds ...C) Initial[S, C] {
	return Initial[S, C]{State: state, Commands: Command(cmds...)}
}
