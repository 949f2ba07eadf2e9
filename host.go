package loopz

// Level is the severity passed to Host.LogMessage.
// Values follow the host agent's scale, least to most verbose.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelInfo
	LevelFine
	LevelFinest
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelWarning:
		return "warning"
	case LevelInfo:
		return "info"
	case LevelFine:
		return "fine"
	case LevelFinest:
		return "finest"
	case LevelDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// MonitorData is the envelope handed to Host.PushData.
//
// Data is only valid for the duration of the PushData call. The caller
// reuses the buffer afterwards, so a host that keeps the payload must copy it.
type MonitorData struct {
	Persistent bool
	ProviderID uint32
	SourceID   uint32
	Size       uint32
	Data       []byte
}

// Host is the agent a plugin reports to.
//
// PushData gives the plugin no feedback: delivery, buffering and failures
// are the host's concern.
type Host interface {
	PushData(data *MonitorData)
	LogMessage(level Level, msg string)
}

// SourceDescriptor describes a plugin's push source to the host.
type SourceDescriptor struct {
	Name        string
	Description string
	SourceID    uint32
	// Capacity is a buffering hint for the host, in bytes.
	Capacity uint32
}
