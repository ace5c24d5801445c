package models

import "strings"

// RemoteButton is a logical remote-control action. Connectors translate it
// to their own wire-level key codes.
type RemoteButton string

const (
	ButtonPower       RemoteButton = "POWER"
	ButtonUp          RemoteButton = "UP"
	ButtonDown        RemoteButton = "DOWN"
	ButtonLeft        RemoteButton = "LEFT"
	ButtonRight       RemoteButton = "RIGHT"
	ButtonOK          RemoteButton = "ENTER"
	ButtonBack        RemoteButton = "RETURN"
	ButtonHome        RemoteButton = "HOME"
	ButtonMenu        RemoteButton = "MENU"
	ButtonExit        RemoteButton = "EXIT"
	ButtonVolumeUp    RemoteButton = "VOLUP"
	ButtonVolumeDown  RemoteButton = "VOLDOWN"
	ButtonMute        RemoteButton = "MUTE"
	ButtonChannelUp   RemoteButton = "CHUP"
	ButtonChannelDown RemoteButton = "CHDOWN"
	ButtonSource      RemoteButton = "SOURCE"
	Button0           RemoteButton = "0"
	Button1           RemoteButton = "1"
	Button2           RemoteButton = "2"
	Button3           RemoteButton = "3"
	Button4           RemoteButton = "4"
	Button5           RemoteButton = "5"
	Button6           RemoteButton = "6"
	Button7           RemoteButton = "7"
	Button8           RemoteButton = "8"
	Button9           RemoteButton = "9"
	ButtonPlay        RemoteButton = "PLAY"
	ButtonPause       RemoteButton = "PAUSE"
	ButtonStop        RemoteButton = "STOP"
	ButtonRewind      RemoteButton = "REWIND"
	ButtonFastForward RemoteButton = "FF"
)

// AllButtons lists every button in remote layout order.
var AllButtons = []RemoteButton{
	ButtonPower,
	ButtonUp, ButtonDown, ButtonLeft, ButtonRight, ButtonOK,
	ButtonBack, ButtonHome, ButtonMenu, ButtonExit,
	ButtonVolumeUp, ButtonVolumeDown, ButtonMute,
	ButtonChannelUp, ButtonChannelDown,
	ButtonSource,
	Button0, Button1, Button2, Button3, Button4,
	Button5, Button6, Button7, Button8, Button9,
	ButtonPlay, ButtonPause, ButtonStop, ButtonRewind, ButtonFastForward,
}

// buttonAliases accepts friendlier spellings at the CLI and API edges.
var buttonAliases = map[string]RemoteButton{
	"OK":           ButtonOK,
	"SELECT":       ButtonOK,
	"BACK":         ButtonBack,
	"VOLUME_UP":    ButtonVolumeUp,
	"VOLUME_DOWN":  ButtonVolumeDown,
	"CHANNEL_UP":   ButtonChannelUp,
	"CHANNEL_DOWN": ButtonChannelDown,
	"FAST_FORWARD": ButtonFastForward,
	"FORWARD":      ButtonFastForward,
}

// ParseButton resolves a button name case-insensitively.
func ParseButton(s string) (RemoteButton, bool) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for _, b := range AllButtons {
		if string(b) == key {
			return b, true
		}
	}
	b, ok := buttonAliases[key]
	return b, ok
}

// IsPremium reports whether the button requires an entitlement.
func (b RemoteButton) IsPremium() bool {
	switch b {
	case Button0, Button1, Button2, Button3, Button4,
		Button5, Button6, Button7, Button8, Button9,
		ButtonPlay, ButtonPause, ButtonStop, ButtonRewind, ButtonFastForward:
		return true
	default:
		return false
	}
}
