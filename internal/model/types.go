package model

import "time"

const (
	EventLoginFailed  = "login_failed"
	EventLoginSuccess = "login_success"

	DefaultWindowMinutes    = 5
	DefaultFailureThreshold = 5
)

// LogEvent is one observed security-relevant action. Every field is always
// serialized so consumers never branch on key presence.
type LogEvent struct {
	EventID    string         `json:"eventId"`
	CustomerID string         `json:"customerId"`
	UserID     string         `json:"userId"`
	Event      string         `json:"event"`
	IP         string         `json:"ip"`
	Device     string         `json:"device"`
	Metadata   map[string]any `json:"metadata"`
	UserAgent  string         `json:"userAgent"`
	RequestIP  string         `json:"requestIp"`
	ReceivedAt time.Time      `json:"receivedAt"`
	EventTime  time.Time      `json:"eventTime"`
}

func (e LogEvent) Principal() PrincipalKey {
	return PrincipalKey{CustomerID: e.CustomerID, UserID: e.UserID, IP: e.IP}
}

// PrincipalKey is the (customer, user, source ip) grouping unit.
type PrincipalKey struct {
	CustomerID string `json:"customerId"`
	UserID     string `json:"userId"`
	IP         string `json:"ip"`
}

func (k PrincipalKey) String() string {
	return k.CustomerID + "|" + k.UserID + "|" + k.IP
}

// DetectionWindow parameterizes a single detection run.
type DetectionWindow struct {
	WindowMinutes    int       `json:"windowMinutes"`
	FailureThreshold int       `json:"failureThreshold"`
	EventType        string    `json:"eventType"`
	AsOf             time.Time `json:"asOf"`
}

// WithDefaults fills zero fields; AsOf falls back to now.
func (w DetectionWindow) WithDefaults(now time.Time) DetectionWindow {
	if w.WindowMinutes <= 0 {
		w.WindowMinutes = DefaultWindowMinutes
	}
	if w.FailureThreshold <= 0 {
		w.FailureThreshold = DefaultFailureThreshold
	}
	if w.EventType == "" {
		w.EventType = EventLoginFailed
	}
	if w.AsOf.IsZero() {
		w.AsOf = now
	}
	w.AsOf = w.AsOf.UTC()
	return w
}

func (w DetectionWindow) Duration() time.Duration {
	return time.Duration(w.WindowMinutes) * time.Minute
}

// Bounds returns the closed interval [AsOf-window, AsOf].
func (w DetectionWindow) Bounds() (time.Time, time.Time) {
	return w.AsOf.Add(-w.Duration()), w.AsOf
}

type Candidate struct {
	PrincipalKey  PrincipalKey `json:"principalKey"`
	FailedCount   int          `json:"failedCount"`
	LastEventTime time.Time    `json:"lastEventTime"`
}

type Alert struct {
	Subject        string `json:"subject"`
	Body           string `json:"body"`
	CandidateCount int    `json:"candidateCount"`
}

type DetectionResult struct {
	Detections     int             `json:"detections"`
	Candidates     []Candidate     `json:"candidates,omitempty"`
	Window         DetectionWindow `json:"window"`
	AlertAttempted bool            `json:"alertAttempted"`
	AlertError     string          `json:"alertError,omitempty"`
	Suppressed     int             `json:"suppressed,omitempty"`
}

// PublishOutcome reports the asynchronous completion of a gateway publish.
type PublishOutcome struct {
	EventID   string    `json:"eventId"`
	MessageID string    `json:"messageId,omitempty"`
	Topic     string    `json:"topic"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

func (o PublishOutcome) Failed() bool {
	return o.Error != ""
}
