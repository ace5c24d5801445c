package connector

import (
	"strings"

	"github.com/HerbHall/tvremote/pkg/models"
)

// samsungKey returns the Tizen remote key code. Every button is supported.
func samsungKey(b models.RemoteButton) string {
	return "KEY_" + string(b)
}

var rokuKeys = map[models.RemoteButton]string{
	models.ButtonPower:       "Power",
	models.ButtonUp:          "Up",
	models.ButtonDown:        "Down",
	models.ButtonLeft:        "Left",
	models.ButtonRight:       "Right",
	models.ButtonOK:          "Select",
	models.ButtonBack:        "Back",
	models.ButtonHome:        "Home",
	models.ButtonMenu:        "Info",
	models.ButtonExit:        "Home",
	models.ButtonVolumeUp:    "VolumeUp",
	models.ButtonVolumeDown:  "VolumeDown",
	models.ButtonMute:        "VolumeMute",
	models.ButtonChannelUp:   "ChannelUp",
	models.ButtonChannelDown: "ChannelDown",
	models.ButtonSource:      "InputTuner",
	models.Button0:           "Lit_0",
	models.Button1:           "Lit_1",
	models.Button2:           "Lit_2",
	models.Button3:           "Lit_3",
	models.Button4:           "Lit_4",
	models.Button5:           "Lit_5",
	models.Button6:           "Lit_6",
	models.Button7:           "Lit_7",
	models.Button8:           "Lit_8",
	models.Button9:           "Lit_9",
	models.ButtonPlay:        "Play",
	models.ButtonPause:       "Play",
	models.ButtonStop:        "Stop",
	models.ButtonRewind:      "Rev",
	models.ButtonFastForward: "Fwd",
}

// androidKeycodes are KEYCODE_* values for `input keyevent`.
var androidKeycodes = map[models.RemoteButton]int{
	models.ButtonPower:       26,
	models.ButtonUp:          19,
	models.ButtonDown:        20,
	models.ButtonLeft:        21,
	models.ButtonRight:       22,
	models.ButtonOK:          23,
	models.ButtonBack:        4,
	models.ButtonHome:        3,
	models.ButtonMenu:        82,
	models.ButtonVolumeUp:    24,
	models.ButtonVolumeDown:  25,
	models.ButtonMute:        164,
	models.ButtonChannelUp:   166,
	models.ButtonChannelDown: 167,
	models.ButtonSource:      178,
	models.Button0:           7,
	models.Button1:           8,
	models.Button2:           9,
	models.Button3:           10,
	models.Button4:           11,
	models.Button5:           12,
	models.Button6:           13,
	models.Button7:           14,
	models.Button8:           15,
	models.Button9:           16,
	models.ButtonPlay:        126,
	models.ButtonPause:       127,
	models.ButtonStop:        86,
	models.ButtonRewind:      89,
	models.ButtonFastForward: 90,
}

// lgCommand is an ssap request for one button.
type lgCommand struct {
	uri     string
	payload map[string]any
}

// lgCommands covers the buttons webOS exposes as ssap URIs. Cursor keys
// and digits need the pointer input socket and are not mapped.
var lgCommands = map[models.RemoteButton]lgCommand{
	models.ButtonPower:       {uri: "ssap://system/turnOff"},
	models.ButtonOK:          {uri: "ssap://com.webos.service.ime/sendEnterKey"},
	models.ButtonHome:        {uri: "ssap://system.launcher/launch", payload: map[string]any{"id": "com.webos.app.home"}},
	models.ButtonVolumeUp:    {uri: "ssap://audio/volumeUp"},
	models.ButtonVolumeDown:  {uri: "ssap://audio/volumeDown"},
	models.ButtonChannelUp:   {uri: "ssap://tv/channelUp"},
	models.ButtonChannelDown: {uri: "ssap://tv/channelDown"},
	models.ButtonPlay:        {uri: "ssap://media.controls/play"},
	models.ButtonPause:       {uri: "ssap://media.controls/pause"},
	models.ButtonStop:        {uri: "ssap://media.controls/stop"},
	models.ButtonRewind:      {uri: "ssap://media.controls/rewind"},
	models.ButtonFastForward: {uri: "ssap://media.controls/fastForward"},
}

// hisenseAction returns the VIDAA action name for b: lower snake case,
// digits prefixed with "num_".
func hisenseAction(b models.RemoteButton) string {
	switch b {
	case models.ButtonOK:
		return "ok"
	case models.ButtonBack:
		return "back"
	case models.ButtonVolumeUp:
		return "volume_up"
	case models.ButtonVolumeDown:
		return "volume_down"
	case models.ButtonChannelUp:
		return "channel_up"
	case models.ButtonChannelDown:
		return "channel_down"
	case models.ButtonFastForward:
		return "fast_forward"
	}
	s := strings.ToLower(string(b))
	if len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
		return "num_" + s
	}
	return s
}
