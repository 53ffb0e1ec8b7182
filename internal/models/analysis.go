package models

type AnalysisRequest struct {
	Seq      uint64 `json:"seq"`
	Payload  []byte `json:"-"`
	MimeType string `json:"mime_type"`
	Prompt   string `json:"prompt"`
}

type FailureKind string

const (
	FailureNotConfigured FailureKind = "not_configured"
	FailureAuth          FailureKind = "auth"
	FailureRateLimit     FailureKind = "rate_limit"
	FailureNetwork       FailureKind = "network"
	FailureService       FailureKind = "service"
	FailureEncode        FailureKind = "encode"
)

type Report struct {
	FullText    string `json:"full_text"`
	DiseaseName string `json:"disease_name"`
}

type Failure struct {
	Kind   FailureKind `json:"kind"`
	Reason string      `json:"reason"`
}

// AnalysisResult holds exactly one of Report or Failure.
type AnalysisResult struct {
	Seq     uint64   `json:"seq"`
	Report  *Report  `json:"report,omitempty"`
	Failure *Failure `json:"failure,omitempty"`
}

func (r AnalysisResult) Succeeded() bool {
	return r.Report != nil && r.Failure == nil
}
