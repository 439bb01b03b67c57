package opcua

import "strings"

// Node ID prefixes of the tank controller.
const (
	readPrefix  = "ns=6;s=::OpcUaRead:lo_Widget_DataList."
	writePrefix = "ns=6;s=::OpcUaWrite:"
)

// Remote-access nodes. Both live in the write area; the status node is
// also written by the controller and monitored by TankWatch.
var (
	RemoteAccessRequestNode = WriteNodeID("lo_WidgetDemandeRemoteAccess")
	RemoteAccessStatusNode  = WriteNodeID("lo_WidgetEtatConnexion")
)

// ReadNodeID returns the data-list node of a telemetry point.
func ReadNodeID(point string) string {
	return readPrefix + point
}

// WriteNodeID returns the node of a writable control point.
func WriteNodeID(point string) string {
	return writePrefix + point
}

// Command is an action the operator can trigger during a granted session.
type Command string

// Tank commands.
const (
	CommandStop    Command = "stop"
	CommandCold    Command = "cold"
	CommandAgitate Command = "agitate"
	CommandWash    Command = "wash"
)

// commandSuffix maps commands to the controller's point suffix.
var commandSuffix = map[Command]string{
	CommandStop:    "Stop",
	CommandCold:    "Froid",
	CommandAgitate: "Agit",
	CommandWash:    "Lavage",
}

// ParseCommand accepts a command name case-insensitively.
func ParseCommand(s string) (Command, bool) {
	c := Command(strings.ToLower(s))
	_, ok := commandSuffix[c]
	return c, ok
}

// ActionNodeID is the node written to trigger the command.
func (c Command) ActionNodeID() string {
	return WriteNodeID("lo_WidgetAction" + commandSuffix[c])
}

// AckNodeID is the node read back to confirm the command.
// The controller spells it "Wigdet".
func (c Command) AckNodeID() string {
	return WriteNodeID("lo_WigdetRetourAction" + commandSuffix[c])
}
