// Package command defines the contract of requests handled by aggregates.
package command

// Command is a request to change the state of an aggregate.
type Command interface {
	CommandName() string
}
