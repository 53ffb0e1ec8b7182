package models

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCapturing
	PhaseDispatched
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCapturing:
		return "capturing"
	case PhaseDispatched:
		return "dispatched"
	case PhaseCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// AppState is the single mutable record of the application. Only the
// coordinator loop writes it; everyone else works on a Clone.
type AppState struct {
	CameraActive bool
	ActiveDevice int
	Devices      []int

	CurrentFrame  *Frame
	CapturedImage *Frame
	LastResult    *AnalysisResult

	Status       string
	DiseaseLabel string
	ReportText   string

	Phase Phase
	Seq   uint64
}

// Clone copies the slices and pointed-to records so the copy can cross
// goroutines. Frames are immutable and shared.
func (s AppState) Clone() AppState {
	out := s

	if s.Devices != nil {
		out.Devices = append([]int(nil), s.Devices...)
	}

	if s.CurrentFrame != nil {
		f := *s.CurrentFrame
		out.CurrentFrame = &f
	}

	if s.CapturedImage != nil {
		f := *s.CapturedImage
		out.CapturedImage = &f
	}

	if s.LastResult != nil {
		r := *s.LastResult
		if r.Report != nil {
			rep := *r.Report
			r.Report = &rep
		}
		if r.Failure != nil {
			fail := *r.Failure
			r.Failure = &fail
		}
		out.LastResult = &r
	}

	return out
}
