package models

import "time"

// SessionStoreName keys the single persisted research session.
const SessionStoreName = "deep-research-session"

// Phase steps reported through ResearchSession.CurrentStep.
const (
	StepIdle = iota
	StepClarification
	StepPlan
	StepTasks
	StepReport
	StepDone
)

// Task targets proposed by the lead task generation.
const (
	TargetWeb      = "web"
	TargetAcademic = "academic"
	TargetSocial   = "social"
	TargetFile     = "file"
)

// QnA is a clarifying question with the user's (or predicted) answer.
type QnA struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// GroundingRef is a source cited by a web-grounded generation.
type GroundingRef struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// ResearchTask is one research directive of a tier. A non-empty Learning
// marks it done.
type ResearchTask struct {
	ID            string         `json:"id"`
	Tier          int            `json:"tier"`
	Title         string         `json:"title"`
	Direction     string         `json:"direction"`
	Target        string         `json:"target,omitempty"`
	Learning      string         `json:"learning"`
	Processing    bool           `json:"processing"`
	GroundingRefs []GroundingRef `json:"groundingRefs,omitempty"`
}

// Done reports whether the task's research call completed.
func (t ResearchTask) Done() bool {
	return t.Learning != ""
}

// FileHandle describes an attachment uploaded to the provider.
type FileHandle struct {
	Name           string    `json:"name"`
	DisplayName    string    `json:"displayName"`
	MIMEType       string    `json:"mimeType"`
	SizeBytes      int64     `json:"sizeBytes"`
	ExpirationTime time.Time `json:"expirationTime"`
	URI            string    `json:"uri"`
}

// ResearchSession is the complete state of one research run.
type ResearchSession struct {
	ID             string         `json:"id"`
	Query          string         `json:"query"`
	QnA            []QnA          `json:"qna"`
	Plan           string         `json:"plan"`
	PlanComplete   bool           `json:"planComplete"`
	Tasks          []ResearchTask `json:"tasks"`
	FinalReport    string         `json:"finalReport"`
	ReportComplete bool           `json:"reportComplete"`
	Sources        []string       `json:"sources"`
	Logs           []string       `json:"logs"`
	CurrentStep    int            `json:"currentStep"`
	Files          []FileHandle   `json:"files"`

	IsGeneratingQnA        bool `json:"isGeneratingQnA"`
	IsGeneratingPlan       bool `json:"isGeneratingPlan"`
	IsGeneratingTasks      bool `json:"isGeneratingTasks"`
	IsGeneratingReport     bool `json:"isGeneratingReport"`
	IsCancelling           bool `json:"isCancelling"`
	ResearchCompletedEarly bool `json:"researchCompletedEarly"`
	MaxTierReached         int  `json:"maxTierReached"`
}

// NewResearchSession returns an empty session.
func NewResearchSession() *ResearchSession {
	return &ResearchSession{
		QnA:     []QnA{},
		Tasks:   []ResearchTask{},
		Sources: []string{},
		Logs:    []string{},
		Files:   []FileHandle{},
	}
}

// Clone returns a deep copy safe to hand out of the session store.
func (s *ResearchSession) Clone() *ResearchSession {
	if s == nil {
		return nil
	}
	out := *s
	out.QnA = append([]QnA{}, s.QnA...)
	out.Tasks = make([]ResearchTask, len(s.Tasks))
	for i, t := range s.Tasks {
		t.GroundingRefs = append([]GroundingRef(nil), t.GroundingRefs...)
		out.Tasks[i] = t
	}
	out.Sources = append([]string{}, s.Sources...)
	out.Logs = append([]string{}, s.Logs...)
	out.Files = append([]FileHandle{}, s.Files...)
	return &out
}

// DerivedStep computes the furthest phase reached from the populated fields.
func (s *ResearchSession) DerivedStep() int {
	step := StepIdle
	if s.Query != "" {
		step = StepClarification
	}
	if len(s.QnA) > 0 {
		step = StepPlan
	}
	if s.Plan != "" {
		step = StepTasks
	}
	if len(s.Tasks) > 0 || s.ResearchCompletedEarly {
		step = StepReport
	}
	if s.FinalReport != "" {
		step = StepDone
	}
	return step
}

// IsGenerating reports whether any phase is currently running.
func (s *ResearchSession) IsGenerating() bool {
	return s.IsGeneratingQnA || s.IsGeneratingPlan || s.IsGeneratingTasks || s.IsGeneratingReport
}

// TasksForTier returns the tasks of a tier in insertion order.
func (s *ResearchSession) TasksForTier(tier int) []ResearchTask {
	var out []ResearchTask
	for _, t := range s.Tasks {
		if t.Tier == tier {
			out = append(out, t)
		}
	}
	return out
}

// TaskIndex returns the position of the task with id, or -1.
func (s *ResearchSession) TaskIndex(id string) int {
	for i, t := range s.Tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// AllTasksDone reports whether every generated task has a learning.
func (s *ResearchSession) AllTasksDone() bool {
	for _, t := range s.Tasks {
		if !t.Done() {
			return false
		}
	}
	return true
}

// AllQuestionsAnswered reports whether the clarification phase can advance.
func (s *ResearchSession) AllQuestionsAnswered() bool {
	if len(s.QnA) == 0 {
		return false
	}
	for _, q := range s.QnA {
		if q.Answer == "" {
			return false
		}
	}
	return true
}
