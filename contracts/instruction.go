package contracts

import (
	"strings"
)

// FieldName names the fourth attribute of an instruction. Remote controls
// send a button, aircon units send a configuration string.
type FieldName string

const (
	FieldConfig FieldName = "config"
	FieldButton FieldName = "button"
)

// Well-known instruction types. Any other string is accepted; the type is
// also the routing key the instruction is published under.
const (
	TypeRemoteControl = "remote_control"
	TypeSensors       = "sensors"
	TypeHeartbeat     = "heartbeat"
	TypeUpdate        = "update"
)

// Instruction is the command sent to workers. Values are opaque to the
// client and must not contain the characters ", <, >, & or a carriage
// return (XML parsers read \r back as \n).
//
// A Value without a ValueField is sent as config; Normalize returns the
// instruction in that canonical form.
type Instruction struct {
	Type       string
	Target     string
	Remote     string
	ValueField FieldName
	Value      string
}

// NewButtonInstruction builds an instruction pressing button on remote.
func NewButtonInstruction(instructionType, target, remote, button string) Instruction {
	return Instruction{
		Type:       instructionType,
		Target:     target,
		Remote:     remote,
		ValueField: FieldButton,
		Value:      button,
	}
}

// NewConfigInstruction builds an instruction sending config through remote.
func NewConfigInstruction(instructionType, target, remote, config string) Instruction {
	return Instruction{
		Type:       instructionType,
		Target:     target,
		Remote:     remote,
		ValueField: FieldConfig,
		Value:      config,
	}
}

// NewQueryInstruction builds a value-less instruction such as sensors or heartbeat.
func NewQueryInstruction(instructionType string, targets ...string) Instruction {
	return Instruction{
		Type:   instructionType,
		Target: JoinTargets(targets...),
	}
}

// Targets splits the comma-separated zone list.
func (i Instruction) Targets() []string {
	return SplitTargets(i.Target)
}

// Field returns the attribute name used for Value, defaulting to config.
func (i Instruction) Field() FieldName {
	if i.ValueField == "" {
		return FieldConfig
	}
	return i.ValueField
}

// Normalize names the value field explicitly when only Value is set.
func (i Instruction) Normalize() Instruction {
	if i.ValueField == "" && i.Value != "" {
		i.ValueField = FieldConfig
	}
	return i
}

// JoinTargets builds a zone list, dropping blanks.
func JoinTargets(targets ...string) string {
	kept := make([]string, 0, len(targets))
	for _, t := range targets {
		if t = strings.TrimSpace(t); t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, ",")
}

// SplitTargets is the inverse of JoinTargets.
func SplitTargets(target string) []string {
	if target == "" {
		return nil
	}
	parts := strings.Split(target, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			targets = append(targets, p)
		}
	}
	return targets
}
