package playback

// Command is a transport or panel action bound to a keyboard key.
type Command string

const (
	CommandNone             Command = ""
	CommandTogglePlay       Command = "toggle_play"
	CommandSeekBack         Command = "seek_back"
	CommandSeekForward      Command = "seek_forward"
	CommandVolumeUp         Command = "volume_up"
	CommandVolumeDown       Command = "volume_down"
	CommandToggleMute       Command = "toggle_mute"
	CommandFullscreen       Command = "fullscreen"
	CommandToggleTranscript Command = "toggle_transcript"
)

var keyBindings = map[string]Command{
	" ":          CommandTogglePlay,
	"ArrowLeft":  CommandSeekBack,
	"ArrowRight": CommandSeekForward,
	"ArrowUp":    CommandVolumeUp,
	"ArrowDown":  CommandVolumeDown,
	"m":          CommandToggleMute,
	"M":          CommandToggleMute,
	"f":          CommandFullscreen,
	"F":          CommandFullscreen,
	"t":          CommandToggleTranscript,
	"T":          CommandToggleTranscript,
}

// CommandForKey maps a KeyboardEvent.key value to a command. Keys typed into
// text inputs never reach here; the front end filters them.
func CommandForKey(key string) Command {
	return keyBindings[key]
}

// Apply runs the transport part of cmd against s. Panel commands
// (fullscreen, transcript) are left to the caller and report false.
func (s *State) Apply(cmd Command) bool {
	switch cmd {
	case CommandTogglePlay:
		s.TogglePlay()
	case CommandSeekBack:
		s.SkipBy(-KeySeekSeconds)
	case CommandSeekForward:
		s.SkipBy(KeySeekSeconds)
	case CommandVolumeUp:
		s.NudgeVolume(KeyVolumeStep)
	case CommandVolumeDown:
		s.NudgeVolume(-KeyVolumeStep)
	case CommandToggleMute:
		s.ToggleMute()
	default:
		return false
	}
	return true
}
