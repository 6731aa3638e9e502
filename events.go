package cardwave

type EventKind int

const (
	EventLoad EventKind = iota + 1
	EventLoading
	EventDecode
	EventRender
	EventReady
	EventPlay
	EventPause
	EventTimeUpdate
	EventAudioProcess
	EventSeeking
	EventFinish
	EventInteraction
	EventClick
	EventDblClick
	EventScroll
	EventRedraw
	EventDrag
	EventZoom
	EventDestroy
)

var eventNames = map[EventKind]string{
	EventLoad:         "load",
	EventLoading:      "loading",
	EventDecode:       "decode",
	EventRender:       "render",
	EventReady:        "ready",
	EventPlay:         "play",
	EventPause:        "pause",
	EventTimeUpdate:   "timeupdate",
	EventAudioProcess: "audioprocess",
	EventSeeking:      "seeking",
	EventFinish:       "finish",
	EventInteraction:  "interaction",
	EventClick:        "click",
	EventDblClick:     "dblclick",
	EventScroll:       "scroll",
	EventRedraw:       "redraw",
	EventDrag:         "drag",
	EventZoom:         "zoom",
	EventDestroy:      "destroy",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// Event is the payload for every engine event. Only the fields relevant to
// Kind are set:
//
//	load          URL
//	loading       Percent
//	decode, ready Time (duration)
//	timeupdate, audioprocess, seeking, interaction  Time
//	click, dblclick, drag  RelX, RelY
//	scroll        Start, End (seconds)
//	zoom          MinPxPerSec
type Event struct {
	Kind        EventKind
	Time        float64
	URL         string
	Percent     int
	RelX        float64
	RelY        float64
	Start       float64
	End         float64
	MinPxPerSec float64
}
