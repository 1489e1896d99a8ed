package chat

import (
	"fmt"
	"strings"
)

type CommandResult struct {
	Name   string
	Valid  bool
	Notice string
}

// CommandInterpreter recognizes prefixed input. Commands carry no side effects yet.
type CommandInterpreter struct {
	prefix   string
	commands map[string]struct{}
}

func NewCommandInterpreter(prefix string, names ...string) *CommandInterpreter {
	commands := make(map[string]struct{}, len(names))
	for _, name := range names {
		commands[name] = struct{}{}
	}
	return &CommandInterpreter{prefix: prefix, commands: commands}
}

func (c *CommandInterpreter) IsCommand(text string) bool {
	return c.prefix != "" && strings.HasPrefix(text, c.prefix)
}

func (c *CommandInterpreter) Parse(text string) CommandResult {
	name := strings.TrimPrefix(strings.Split(text, " ")[0], c.prefix)
	if _, ok := c.commands[name]; !ok || name == "" {
		return CommandResult{
			Name:   name,
			Notice: fmt.Sprintf("Invalid command: %s%s", c.prefix, name),
		}
	}
	return CommandResult{
		Name:   name,
		Valid:  true,
		Notice: fmt.Sprintf("Command %s%s executed", c.prefix, name),
	}
}
