package attendance

import "fmt"

// Condition identifies a user-facing outcome raised by the session.
type Condition int

const (
	ConditionNone Condition = iota
	ConditionBluetoothDisabled
	ConditionPermissionRequired
	ConditionNothingFound
	ConditionScanFailed
	ConditionConnected
	ConditionConnectFailed
	ConditionAlreadyConnected
	ConditionNotConnected
	ConditionInvalidName
	ConditionBusy
	ConditionAttendFailed
	ConditionAttended
	ConditionAlreadyAttended
	ConditionDisconnectFailed
	ConditionDisconnected
	ConditionAttendeeEntered
)

var conditionNames = map[Condition]string{
	ConditionNone:               "none",
	ConditionBluetoothDisabled:  "bluetooth_disabled",
	ConditionPermissionRequired: "permission_required",
	ConditionNothingFound:       "nothing_found",
	ConditionScanFailed:         "scan_failed",
	ConditionConnected:          "connected",
	ConditionConnectFailed:      "connect_failed",
	ConditionAlreadyConnected:   "already_connected",
	ConditionNotConnected:       "not_connected",
	ConditionInvalidName:        "invalid_name",
	ConditionBusy:               "busy",
	ConditionAttendFailed:       "attend_failed",
	ConditionAttended:           "attended",
	ConditionAlreadyAttended:    "already_attended",
	ConditionDisconnectFailed:   "disconnect_failed",
	ConditionDisconnected:       "disconnected",
	ConditionAttendeeEntered:    "attendee_entered",
}

func (c Condition) String() string {
	if s, ok := conditionNames[c]; ok {
		return s
	}
	return fmt.Sprintf("condition(%d)", int(c))
}

// IsWarning reports whether the condition reports a failure or a rejected request.
func (c Condition) IsWarning() bool {
	switch c {
	case ConditionBluetoothDisabled, ConditionPermissionRequired, ConditionNothingFound,
		ConditionScanFailed, ConditionConnectFailed, ConditionAlreadyConnected,
		ConditionNotConnected, ConditionInvalidName, ConditionBusy,
		ConditionAttendFailed, ConditionAlreadyAttended, ConditionDisconnectFailed:
		return true
	default:
		return false
	}
}

// Notice is a condition together with the text shown to the user.
type Notice struct {
	Condition Condition
	Title     string
	Message   string
	Err       error   // underlying transport error, if any
	Attendee  *Record // set for ConditionAttendeeEntered
}

func (n Notice) String() string {
	if n.Title == "" {
		return n.Message
	}
	return n.Title + ": " + n.Message
}

var noticeText = map[Condition][2]string{
	ConditionBluetoothDisabled:  {"Bluetooth disabled", "You need to enable bluetooth to use this app."},
	ConditionPermissionRequired: {"Permission required", "You need to grant bluetooth access to use this app."},
	ConditionNothingFound:       {"Nothing found", "Sorry, no peripherals were found"},
	ConditionScanFailed:         {"Scan failed", "Something went wrong while scanning for peripherals."},
	ConditionConnected:          {"Connected!", "You are now connected to the peripheral."},
	ConditionConnectFailed:      {"Err..", "Something went wrong while trying to connect."},
	ConditionAlreadyConnected:   {"Already connected", "Disconnect from the current peripheral first."},
	ConditionNotConnected:       {"Not connected", "Connect to a peripheral before attending."},
	ConditionInvalidName:        {"Invalid name", "Please enter your full name."},
	ConditionBusy:               {"Busy", "Please wait for the current request to finish."},
	ConditionAttendFailed:       {"Error attending", "Something went wrong while trying to attend. Please try again."},
	ConditionAttended:           {"Attended", "You have successfully attended the event, please disable bluetooth."},
	ConditionAlreadyAttended:    {"Already attended", "You have already attended the event."},
	ConditionDisconnectFailed:   {"Error disconnecting", "There's a problem disconnecting from the peripheral, please disable bluetooth to force disconnection."},
	ConditionDisconnected:       {"Disconnected", "You are no longer connected to the peripheral."},
}

func newNotice(c Condition, err error) *Notice {
	text := noticeText[c]
	return &Notice{Condition: c, Title: text[0], Message: text[1], Err: err}
}

func attendeeEntered(r Record) *Notice {
	rec := r
	return &Notice{
		Condition: ConditionAttendeeEntered,
		Message:   fmt.Sprintf("%s just entered the room!", r.FullName),
		Attendee:  &rec,
	}
}
