package batch

import (
	"fmt"
)

// MaxBatchSize is the most commands the portal accepts in one batch request.
const MaxBatchSize = 50

// CommandCollection is an ordered, size-bounded set of commands.
// It is not safe for concurrent use.
type CommandCollection struct {
	max      int
	commands []Command
	keys     map[string]struct{}
}

// NewCommandCollection creates a collection holding up to size commands.
// size is clamped to 1..MaxBatchSize.
func NewCommandCollection(size int) *CommandCollection {
	if size <= 0 || size > MaxBatchSize {
		size = MaxBatchSize
	}
	return &CommandCollection{
		max:      size,
		commands: make([]Command, 0, size),
		keys:     make(map[string]struct{}, size),
	}
}

// Add appends cmd. It fails with ErrCollectionFull once Max commands are
// registered and with ErrDuplicateKey if the key is already taken.
func (cc *CommandCollection) Add(cmd Command) error {
	if len(cc.commands) >= cc.max {
		return fmt.Errorf("%w: %d commands", ErrCollectionFull, cc.max)
	}
	if _, ok := cc.keys[cmd.key]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, cmd.key)
	}
	cc.keys[cmd.key] = struct{}{}
	cc.commands = append(cc.commands, cmd)
	return nil
}

// Len returns the number of registered commands.
func (cc *CommandCollection) Len() int {
	return len(cc.commands)
}

// Max returns the capacity of the collection.
func (cc *CommandCollection) Max() int {
	return cc.max
}

// IsFull reports whether another Add would fail.
func (cc *CommandCollection) IsFull() bool {
	return len(cc.commands) >= cc.max
}

// Commands returns the registered commands in registration order.
func (cc *CommandCollection) Commands() []Command {
	out := make([]Command, len(cc.commands))
	copy(out, cc.commands)
	return out
}

// Reset empties the collection.
func (cc *CommandCollection) Reset() {
	cc.commands = cc.commands[:0]
	clear(cc.keys)
}
