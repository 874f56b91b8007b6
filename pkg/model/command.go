package model

import "fmt"

// Command tags every protocol exchange. The first five are requests a master sends to a
// slave (plus PONG), the rest are what a slave answers to TASK.
type Command uint8

const (
	PING Command = iota + 1
	PONG
	INIT
	TASK
	CLOSE
	RESULT
	DONE
	FAIL
)

var commandStr = map[Command]string{
	PING:   "PING",
	PONG:   "PONG",
	INIT:   "INIT",
	TASK:   "TASK",
	CLOSE:  "CLOSE",
	RESULT: "RESULT",
	DONE:   "DONE",
	FAIL:   "FAIL",
}

func (c Command) String() string {
	if s, ok := commandStr[c]; ok {
		return s
	}
	return fmt.Sprintf("Command(%d)", uint8(c))
}

func (c Command) Known() bool {
	_, ok := commandStr[c]
	return ok
}

// ModelProvision is a model name with its executable definition.
type ModelProvision struct {
	Name string
	Code []byte
}
