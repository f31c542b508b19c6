package controller

// Verb is a two-letter command mnemonic sent to the controller.
type Verb string

const (
	VerbMoveAbsolute    Verb = "ma"
	VerbMoveRelative    Verb = "mr"
	VerbConstantVel     Verb = "cv"
	VerbHomeToDatum     Verb = "hd"
	VerbSetDatumMode    Verb = "dm"
	VerbMoveDatum       Verb = "md"
	VerbCurrentOp       Verb = "co"
	VerbOutputAxis      Verb = "oa"
	VerbAbort           Verb = "ab"
	VerbReset           Verb = "rs"
	VerbQueryAll        Verb = "qa"
	VerbSetCreepSpeed   Verb = "sc"
	VerbSetSlewSpeed    Verb = "sv"
)

// movementVerbs are rejected while an axis is paused.
var movementVerbs = map[Verb]bool{
	VerbMoveAbsolute:  true,
	VerbMoveRelative:  true,
	VerbConstantVel:   true,
	VerbHomeToDatum:   true,
	VerbMoveDatum:     true,
	VerbSetCreepSpeed: true,
	VerbSetSlewSpeed:  true,
}

// alwaysPermitted verbs pass even when the targeted axis is disabled.
var alwaysPermitted = map[Verb]bool{
	VerbCurrentOp: true,
	VerbOutputAxis: true,
	VerbQueryAll:   true,
	VerbAbort:      true,
}

// Command describes one verb this controller recognises, for the
// CommandList diagnostic, grounded on newport.Command / HTTPCmdList.
type Command struct {
	Verb        Verb
	Class       string
	Description string
}

// Commands is the full recognised verb table.
var Commands = []Command{
	{VerbMoveAbsolute, "movement", "move to an absolute encoder position"},
	{VerbMoveRelative, "movement", "move by a relative number of encoder steps"},
	{VerbConstantVel, "movement", "move at constant velocity"},
	{VerbHomeToDatum, "movement", "search for datum (home)"},
	{VerbSetDatumMode, "movement", "set datum-search mode bitmask"},
	{VerbMoveDatum, "movement", "move relative to datum"},
	{VerbCurrentOp, "status", "report current operation/status"},
	{VerbOutputAxis, "status", "report current encoder position"},
	{VerbAbort, "control", "abort motion"},
	{VerbReset, "control", "reset aborted state"},
	{VerbQueryAll, "query-all", "report full controller configuration block"},
	{VerbSetCreepSpeed, "movement", "set creep (slow approach) speed"},
	{VerbSetSlewSpeed, "movement", "set slew (normal) speed"},
}

// IsMovement reports whether v is rejected while an axis is paused.
func (v Verb) IsMovement() bool { return movementVerbs[v] }

// IsAlwaysPermitted reports whether v passes even for a disabled axis.
func (v Verb) IsAlwaysPermitted() bool { return alwaysPermitted[v] }
